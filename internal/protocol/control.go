// Package protocol implements the line-oriented stdio protocol spoken with
// the supervising parent: control commands in, event lines out.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"unicode"

	agentlog "github.com/memorypilot/watchagent/internal/log"
)

const (
	VerbConfig = ".CONFIG"
	VerbQuit   = ".QUIT"
)

// Command is one parsed control line
type Command struct {
	Verb string
	Args string
}

// ParseLine splits a control line into verb and arguments. It returns false
// for blank lines, which are not commands at all.
func ParseLine(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, false
	}
	idx := strings.IndexFunc(line, unicode.IsSpace)
	if idx < 0 {
		return Command{Verb: line}, true
	}
	return Command{
		Verb: line[:idx],
		Args: strings.TrimLeftFunc(line[idx:], unicode.IsSpace),
	}, true
}

// maxLineSize bounds a single control line; config payloads are small but
// ignore lists can grow.
const maxLineSize = 4 * 1024 * 1024

// Reader pumps lines from the control stream onto a channel so they can be
// selected on together with the other sources. A line longer than the limit
// is discarded with a warning and reading continues with the next line.
type Reader struct {
	lines    chan string
	done     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	maxLine  int
	err      error
}

// NewReader starts reading r in the background. The channel returned by
// Lines is closed at end of stream or after Close.
func NewReader(r io.Reader) *Reader {
	return newReader(r, maxLineSize)
}

func newReader(r io.Reader, maxLine int) *Reader {
	cr := &Reader{
		lines:   make(chan string),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		maxLine: maxLine,
	}
	go cr.run(r)
	return cr
}

func (cr *Reader) run(r io.Reader) {
	defer close(cr.lines)
	defer close(cr.done)

	br := bufio.NewReaderSize(r, 64*1024)
	var (
		line       []byte
		discarding bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !discarding {
			line = append(line, chunk...)
			if len(trimEOL(line)) > cr.maxLine {
				discarding = true
				line = line[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		switch {
		case discarding:
			agentlog.Warn("control line too long, discarded", "limit", cr.maxLine)
			discarding = false
		case err == nil || len(line) > 0:
			if !cr.send(string(trimEOL(line))) {
				return
			}
		}
		line = line[:0]

		if err != nil {
			if !errors.Is(err, io.EOF) {
				cr.err = err
			}
			return
		}
	}
}

func (cr *Reader) send(line string) bool {
	select {
	case cr.lines <- line:
		return true
	case <-cr.stop:
		return false
	}
}

// trimEOL drops a trailing newline and a carriage return before it
func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}

// Lines returns the channel of raw lines
func (cr *Reader) Lines() <-chan string {
	return cr.lines
}

// Close stops delivering lines. A read already blocked on the underlying
// stream is not interrupted; the goroutine exits once that read returns.
func (cr *Reader) Close() {
	cr.stopOnce.Do(func() { close(cr.stop) })
}

// Err returns the read error once the stream has ended. It is nil while
// reading is still in progress and after a clean EOF.
func (cr *Reader) Err() error {
	select {
	case <-cr.done:
		return cr.err
	default:
		return nil
	}
}
