// Package sync implements the incremental poll loop that moves rows from
// the source snapshot into the normalized store.
package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kevinfeng77/imsgd/internal/bus"
	"github.com/kevinfeng77/imsgd/internal/identity"
	"github.com/kevinfeng77/imsgd/internal/source"
	"github.com/kevinfeng77/imsgd/internal/store"
	"github.com/kevinfeng77/imsgd/internal/typedstream"
)

// Summary describes one completed poll. NewMessages holds only messages
// first stored by this poll; a replayed batch contributes none.
type Summary struct {
	RowsSeen    int
	RowsSynced  int
	NewMessages []store.Message
	Conflicts   int
	Watermark   int64
	Duration    time.Duration
}

// Observer is notified once per completed poll, including polls that found
// nothing past the watermark.
type Observer func(Summary)

// Engine performs one poll at a time: read past the watermark, decode,
// resolve, stage, commit. It holds no snapshot handle between polls; the
// snapshot file may be swapped out from under it at any time.
type Engine struct {
	db           *store.DB
	resolver     *identity.Resolver
	snapshotPath string
	batchSize    int
	bus          *bus.Bus
	log          *zap.Logger
	observer     Observer
}

// New creates an Engine. observer may be nil.
func New(db *store.DB, resolver *identity.Resolver, snapshotPath string, batchSize int, b *bus.Bus, log *zap.Logger, observer Observer) *Engine {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Engine{
		db:           db,
		resolver:     resolver,
		snapshotPath: snapshotPath,
		batchSize:    batchSize,
		bus:          b,
		log:          log,
		observer:     observer,
	}
}

// SnapshotPath returns the snapshot file the engine polls.
func (e *Engine) SnapshotPath() string {
	return e.snapshotPath
}

// PollOnce runs a single poll cycle. A nil error with RowsSeen == 0 means
// the store is already caught up. Any error leaves the watermark untouched;
// the next poll retries the same rows.
func (e *Engine) PollOnce(ctx context.Context) (*Summary, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap, err := source.Open(e.snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer func() { _ = snap.Close() }()

	watermark, err := e.db.Watermark()
	if err != nil {
		return nil, fmt.Errorf("poll: read watermark: %w", err)
	}

	rows, err := snap.ReadBatch(watermark, e.batchSize)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}

	s := Summary{Watermark: watermark}
	if len(rows) > 0 {
		batch, conflicts, err := e.stage(rows, watermark)
		if err != nil {
			return nil, fmt.Errorf("poll: %w", err)
		}

		ids := make([]int64, len(batch.Messages))
		for i, m := range batch.Messages {
			ids[i] = m.ID
		}
		existing, err := e.db.ExistingMessageIDs(ids)
		if err != nil {
			return nil, fmt.Errorf("poll: %w", err)
		}
		if err := e.db.ApplyBatch(batch); err != nil {
			return nil, fmt.Errorf("poll: %w", err)
		}

		var fresh []store.Message
		for _, m := range batch.Messages {
			if !existing[m.ID] {
				fresh = append(fresh, m)
			}
		}
		s = Summary{
			RowsSeen:    len(rows),
			RowsSynced:  len(batch.Messages),
			NewMessages: fresh,
			Conflicts:   conflicts,
			Watermark:   batch.NewWatermark,
		}
	}
	s.Duration = time.Since(start)

	if e.bus != nil {
		e.bus.Publish(bus.Event{Kind: "sync.batch", Timestamp: time.Now(), Payload: s})
	}
	if e.observer != nil {
		go e.observer(s)
	}
	return &s, nil
}

// stage turns source rows into one atomic store batch. Row-level problems
// degrade (placeholder bodies, synthetic users); they never drop a row.
func (e *Engine) stage(rows []source.Row, watermark int64) (*store.Batch, int, error) {
	batch := &store.Batch{
		HandleRefs:    make(map[string]int64),
		PrevWatermark: watermark,
		NewWatermark:  watermark,
	}
	seenUsers := make(map[string]bool)
	seenChats := make(map[int64]bool)
	seenMembers := make(map[string]bool)
	conflicts := 0

	for _, row := range rows {
		u, conflict, err := e.resolveRow(row)
		if err != nil {
			return nil, 0, err
		}
		if conflict != nil {
			conflicts++
			e.log.Warn("handle resolution conflict",
				zap.Int64("handle_ref", conflict.HandleRef),
				zap.String("kept", conflict.KeptUserID),
				zap.String("other", conflict.OtherUserID))
		}
		if !seenUsers[u.ID] {
			seenUsers[u.ID] = true
			batch.Users = append(batch.Users, *u)
		}
		if row.HandleRef != 0 && u.HandleRef == 0 {
			batch.HandleRefs[u.ID] = row.HandleRef
		}
		if !seenChats[row.ChatID] {
			seenChats[row.ChatID] = true
			batch.Chats = append(batch.Chats, store.Chat{ID: row.ChatID, DisplayName: row.ChatDisplayName})
		}

		kind := store.KindText
		if row.Tapback != "" {
			kind = store.TapbackKind(row.Tapback, row.TapbackRemoved)
		}
		decoded := typedstream.Decode(row.Payload, row.Text)
		batch.Messages = append(batch.Messages, store.Message{
			ID:           row.ID,
			UserID:       u.ID,
			Body:         decoded.Text,
			DecodeMethod: string(decoded.Method),
			Kind:         kind,
			FromMe:       row.FromMe,
			Timestamp:    row.Timestamp,
		})

		memberKey := fmt.Sprintf("%d/%s", row.ChatID, u.ID)
		if !seenMembers[memberKey] {
			seenMembers[memberKey] = true
			batch.ChatUsers = append(batch.ChatUsers, store.ChatUser{ChatID: row.ChatID, UserID: u.ID})
		}
		batch.ChatMessages = append(batch.ChatMessages, store.ChatMessage{
			ChatID:    row.ChatID,
			MessageID: row.ID,
			MessageAt: row.Timestamp,
		})

		if row.ID > batch.NewWatermark {
			batch.NewWatermark = row.ID
		}
	}
	return batch, conflicts, nil
}

func (e *Engine) resolveRow(row source.Row) (*store.User, *identity.Conflict, error) {
	if row.FromMe {
		u, err := e.resolver.ResolveSelf()
		return u, nil, err
	}
	res, err := e.resolver.Resolve(row.HandleRef, row.HandleValue)
	if err != nil {
		return nil, nil, err
	}
	return res.User, res.Conflict, nil
}
