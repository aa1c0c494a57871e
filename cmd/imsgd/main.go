package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/kevinfeng77/imsgd/internal/daemon"
	"github.com/kevinfeng77/imsgd/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	onceFlag := flag.Bool("once", false, "run a single poll and exit")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			PollOnce:    *onceFlag,
		}),
	)

	app.Run()
}
