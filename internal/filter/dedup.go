// Package filter suppresses candidate events that repeat the last distinct
// state or whose source is on the ignore list.
package filter

import (
	"github.com/memorypilot/watchagent/internal/config"
	"github.com/memorypilot/watchagent/pkg/models"
)

// Verdict is the outcome of checking a candidate
type Verdict int

const (
	Accepted Verdict = iota
	Duplicate
	Ignored
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Candidate is anything that can be compared against the last accepted state
type Candidate[S comparable] interface {
	Signature() S
	Identity() string
}

// Deduplicator remembers the signature of the last accepted candidate.
// It is not safe for concurrent use; the agent loop owns it.
type Deduplicator[S comparable] struct {
	last    S
	hasLast bool
}

// Accept decides whether c should be emitted. Ignored candidates and
// duplicates leave the cache untouched, so the cache always holds the last
// distinct accepted state.
func (d *Deduplicator[S]) Accept(c Candidate[S], ignored func(string) bool) Verdict {
	if ignored != nil && ignored(c.Identity()) {
		return Ignored
	}
	sig := c.Signature()
	if d.hasLast && d.last == sig {
		return Duplicate
	}
	d.last = sig
	d.hasLast = true
	return Accepted
}

// Last returns the cached signature, if any
func (d *Deduplicator[S]) Last() (S, bool) {
	return d.last, d.hasLast
}

// Window filters window snapshots. Events carrying other payloads, and
// ingress events, pass through unchanged.
type Window struct {
	dedup Deduplicator[models.WindowSignature]
}

// NewWindow creates an empty window filter
func NewWindow() *Window {
	return &Window{}
}

// Check applies ignore-list and dedup rules using cfg's ignore list
func (w *Window) Check(ev models.Event, cfg *config.Config) Verdict {
	if ev.Origin == models.OriginIngress {
		return Accepted
	}
	app, ok := ev.Payload.(models.ApplicationEvent)
	if !ok {
		return Accepted
	}
	return w.dedup.Accept(app, cfg.IsIgnored)
}
