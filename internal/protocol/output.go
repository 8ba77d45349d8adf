package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	"github.com/memorypilot/watchagent/pkg/models"
)

// DirectiveOut marks an event line
const DirectiveOut = ".OUT"

// Framing selects how the kind appears on an event line. The two agents are
// consumed by the same parent with different framings, so both are kept.
type Framing int

const (
	// FramingSingle writes `.OUT kind json`
	FramingSingle Framing = iota
	// FramingDoubled writes `.OUT kind kind json`
	FramingDoubled
)

var (
	ErrEmptyKind   = errors.New("event kind is empty")
	ErrInvalidKind = errors.New("event kind contains whitespace")
	ErrNilPayload  = errors.New("event payload is nil")
)

// ValidKind reports whether kind can be framed as a single token
func ValidKind(kind string) error {
	if kind == "" {
		return ErrEmptyKind
	}
	if strings.IndexFunc(kind, unicode.IsSpace) >= 0 {
		return ErrInvalidKind
	}
	return nil
}

// Writer serializes events to the outbound stream, one line per event.
// Each line is assembled in full and handed to the underlying writer in a
// single Write call, so lines never interleave.
type Writer struct {
	mu      sync.Mutex
	out     io.Writer
	framing Framing
	buf     bytes.Buffer
	enc     *json.Encoder
}

// NewWriter creates a writer using the given framing
func NewWriter(out io.Writer, framing Framing) *Writer {
	w := &Writer{out: out, framing: framing}
	w.enc = json.NewEncoder(&w.buf)
	w.enc.SetEscapeHTML(false)
	return w
}

// Write emits ev as one line
func (w *Writer) Write(ev models.Event) error {
	if err := ValidKind(ev.Kind); err != nil {
		return err
	}
	if ev.Payload == nil {
		return ErrNilPayload
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Reset()
	w.buf.WriteString(DirectiveOut)
	w.buf.WriteByte(' ')
	w.buf.WriteString(ev.Kind)
	w.buf.WriteByte(' ')
	if w.framing == FramingDoubled {
		w.buf.WriteString(ev.Kind)
		w.buf.WriteByte(' ')
	}
	// Encode terminates the payload with the newline that ends the line
	if err := w.enc.Encode(ev.Payload); err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}
	if _, err := w.out.Write(w.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write event line: %w", err)
	}
	return nil
}
