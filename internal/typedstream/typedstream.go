// Package typedstream recovers message text from the archived rich-text
// payload stored alongside each source row. The archive is a length-prefixed,
// type-tagged stream with no public specification, so the walk is deliberately
// narrow: it looks for the first embedded string object and ignores the rest
// of the object graph. Decoding is total: malformed input degrades to a
// placeholder, never an error.
package typedstream

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// Method identifies how a message body was obtained.
type Method string

const (
	// MethodPlain means the payload itself was directly readable text.
	MethodPlain Method = "plain"
	// MethodFallback means the adjacent plain-text column was used.
	MethodFallback Method = "fallback"
	// MethodEmpty means there was nothing to decode.
	MethodEmpty Method = "empty"
	// MethodArchive means text was extracted from the binary archive.
	MethodArchive Method = "archive"
	// MethodUnsupported means the archive parsed but held no extractable string.
	MethodUnsupported Method = "unsupported"
	// MethodFailed means the archive could not be parsed at all.
	MethodFailed Method = "failed"
)

// Placeholder bodies emitted when no text can be recovered. Messages are
// never dropped or stored with empty bodies.
const (
	PlaceholderEmpty       = "[no message content]"
	PlaceholderUnsupported = "[unsupported message content]"
	PlaceholderUndecodable = "[undecodable message content]"
)

// Result is a decoded message body plus the method that produced it.
type Result struct {
	Text   string
	Method Method
}

// archiveHeader opens every archived payload written by the source platform.
var archiveHeader = []byte("\x04\x0bstreamtyped")

// stringClasses are class markers whose following record is the message text.
var stringClasses = [][]byte{
	[]byte("NSMutableString"),
	[]byte("NSString"),
}

// structuredClasses are class markers for non-string object graphs
// (attachments, keyed dictionaries). Their presence means the archive is
// intact but carries content this decoder does not extract.
var structuredClasses = [][]byte{
	[]byte("NSMutableDictionary"),
	[]byte("NSDictionary"),
	[]byte("NSFileWrapper"),
	[]byte("NSAttachment"),
	[]byte("NSMutableAttributedString"),
}

// Decode extracts the best available text from a raw payload, using the
// adjacent plain-text column value as fallback. It always returns a
// non-empty Text and never panics, regardless of input.
func Decode(payload []byte, fallback string) Result {
	// Whitespace-only fallback counts as absent, but usable fallback text
	// is returned verbatim, padding included.
	if strings.TrimSpace(fallback) == "" {
		fallback = ""
	}

	if len(payload) == 0 {
		if fallback != "" {
			return Result{Text: fallback, Method: MethodFallback}
		}
		return Result{Text: PlaceholderEmpty, Method: MethodEmpty}
	}

	if text, ok := asPlainText(payload); ok {
		return Result{Text: text, Method: MethodPlain}
	}

	if bytes.HasPrefix(payload, archiveHeader) {
		return decodeArchive(payload, fallback)
	}

	// Binary, but not an archive we recognize.
	if fallback != "" {
		return Result{Text: fallback, Method: MethodFallback}
	}
	return Result{Text: PlaceholderUndecodable, Method: MethodFailed}
}

// asPlainText reports whether the payload is directly interpretable text
// with no binary envelope.
func asPlainText(payload []byte) (string, bool) {
	if !utf8.Valid(payload) {
		return "", false
	}
	s := string(payload)
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if r < 0x20 || r == 0x7f || r == utf8.RuneError {
			return "", false
		}
	}
	return s, strings.TrimSpace(s) != ""
}

func decodeArchive(payload []byte, fallback string) Result {
	body := payload[len(archiveHeader):]

	if idx, marker := findFirst(body, stringClasses); idx >= 0 {
		text, found, malformed := scanStringRecord(body[idx+len(marker):])
		switch {
		case found:
			return Result{Text: text, Method: MethodArchive}
		case malformed:
			// The record was there but its character data did not decode.
			return Result{Text: PlaceholderUnsupported, Method: MethodUnsupported}
		}
	}

	// No string object. An intact archive around a structured object
	// (attachment, dictionary) is degraded, not failed.
	if idx, _ := findFirst(body, structuredClasses); idx >= 0 {
		return Result{Text: PlaceholderUnsupported, Method: MethodUnsupported}
	}

	if fallback != "" {
		return Result{Text: fallback, Method: MethodFallback}
	}
	return Result{Text: PlaceholderUndecodable, Method: MethodFailed}
}

func findFirst(data []byte, markers [][]byte) (int, []byte) {
	for _, m := range markers {
		if idx := bytes.Index(data, m); idx >= 0 {
			return idx, m
		}
	}
	return -1, nil
}

// scanStringRecord walks the type/length records following a string class
// marker and returns the first character payload whose declared length fits
// the remaining input. found reports success; malformed reports a record
// whose bytes were located but failed character decoding.
func scanStringRecord(data []byte) (text string, found, malformed bool) {
	// The character data record is tagged '+' (a counted byte string),
	// followed by its length and the raw bytes. Everything between the
	// class marker and that tag is class-table bookkeeping of varying
	// width, so scan for the tag rather than assuming a fixed offset.
	for i := 0; i < len(data)-1; i++ {
		if data[i] != '+' {
			continue
		}
		length, next, ok := readLength(data, i+1)
		if !ok || length == 0 {
			continue
		}
		if next+length > len(data) {
			// Declared length runs past the input: truncated archive.
			continue
		}
		raw := data[next : next+length]
		if s, ok := decodeCharData(raw); ok {
			return s, true, false
		}
		// Correctly framed record with undecodable character data.
		malformed = true
	}
	return "", false, malformed
}

// readLength decodes the archive's variable-width length field: values under
// 0x80 are stored inline; 0x81 and 0x82 prefix little-endian 16 and 32 bit
// integers respectively.
func readLength(data []byte, pos int) (length, next int, ok bool) {
	if pos >= len(data) {
		return 0, 0, false
	}
	switch b := data[pos]; {
	case b < 0x80:
		return int(b), pos + 1, true
	case b == 0x81:
		if pos+3 > len(data) {
			return 0, 0, false
		}
		return int(binary.LittleEndian.Uint16(data[pos+1 : pos+3])), pos + 3, true
	case b == 0x82:
		if pos+5 > len(data) {
			return 0, 0, false
		}
		n := binary.LittleEndian.Uint32(data[pos+1 : pos+5])
		if n > uint32(len(data)) {
			return 0, 0, false
		}
		return int(n), pos + 5, true
	default:
		return 0, 0, false
	}
}

// decodeCharData interprets raw string bytes, preferring the single-byte
// encoding and falling back to 16-bit code units when that fails.
func decodeCharData(raw []byte) (string, bool) {
	// NUL bytes mean 16-bit code units: interleaved zeroes in ASCII-range
	// UTF-16 would otherwise pass UTF-8 validation.
	if utf8.Valid(raw) && !bytes.ContainsRune(raw, 0) {
		s := string(raw)
		if strings.TrimSpace(s) != "" && printable(s) {
			return s, true
		}
		return "", false
	}
	if len(raw)%2 != 0 {
		return "", false
	}

	// 16-bit code units; honor a byte-order mark, default little-endian.
	order := binary.ByteOrder(binary.LittleEndian)
	if raw[0] == 0xfe && raw[1] == 0xff {
		order = binary.BigEndian
		raw = raw[2:]
	} else if raw[0] == 0xff && raw[1] == 0xfe {
		raw = raw[2:]
	}
	units := make([]uint16, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		units = append(units, order.Uint16(raw[i:i+2]))
	}
	runes := utf16.Decode(units)
	for _, r := range runes {
		if r == utf8.RuneError {
			// Invalid surrogate sequence.
			return "", false
		}
	}
	s := string(runes)
	if strings.TrimSpace(s) != "" && printable(s) {
		return s, true
	}
	return "", false
}

func printable(s string) bool {
	for _, r := range s {
		if r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// EncodeString builds a minimal archive around s that Decode round-trips.
// Used by tests and sample generators; real payloads carry far more
// bookkeeping, which Decode skips over.
func EncodeString(s string) []byte {
	raw := []byte(s)

	var buf bytes.Buffer
	buf.Write(archiveHeader)
	// Stand-in for the stream preamble the walker ignores.
	buf.Write([]byte{0x81, 0xe8, 0x03, 0x84, 0x01, 0x40, 0x84, 0x84, 0x84})
	buf.WriteString("NSString")
	buf.Write([]byte{0x01, 0x94, 0x84, 0x01, '+'})
	switch {
	case len(raw) < 0x80:
		buf.WriteByte(byte(len(raw)))
	case len(raw) <= 0xffff:
		buf.WriteByte(0x81)
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(len(raw)))
		buf.Write(l[:])
	default:
		buf.WriteByte(0x82)
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(raw)))
		buf.Write(l[:])
	}
	buf.Write(raw)
	buf.Write([]byte{0x86, 0x84, 0x02})
	return buf.Bytes()
}
