package models

import (
	"encoding/json"
	"time"
)

// KindApplication is the event kind emitted by the window watcher
const KindApplication = "application"

// Origin identifies which kind of source produced a candidate event
type Origin string

const (
	OriginPoll    Origin = "poll"
	OriginPush    Origin = "push"
	OriginIngress Origin = "ingress"
)

// Event is a single accepted observation forwarded to the parent process.
// Payload is written flattened on the wire, never nested under a key.
type Event struct {
	Timestamp int64
	Kind      string
	Origin    Origin
	Payload   any
}

// NewEvent creates an event stamped with the current wall clock time
func NewEvent(kind string, origin Origin, payload any) Event {
	return Event{
		Timestamp: time.Now().UnixMilli(),
		Kind:      kind,
		Origin:    origin,
		Payload:   payload,
	}
}

// ApplicationEvent is a snapshot of the active window
type ApplicationEvent struct {
	T      int64  `json:"t"`
	Name   string `json:"name"`
	Title  string `json:"title"`
	X      int64  `json:"x"`
	Y      int64  `json:"y"`
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
	Text   string `json:"text"`
}

// WindowSignature is the subset of a window snapshot that decides whether two
// snapshots describe the same state. Timestamp, name and title are excluded;
// text already carries name and title.
type WindowSignature struct {
	X      int64
	Y      int64
	Width  int64
	Height int64
	Text   string
}

// Signature returns the comparison key used for deduplication
func (e ApplicationEvent) Signature() WindowSignature {
	return WindowSignature{
		X:      e.X,
		Y:      e.Y,
		Width:  e.Width,
		Height: e.Height,
		Text:   e.Text,
	}
}

// Identity returns the name matched against the ignore list
func (e ApplicationEvent) Identity() string {
	return e.Name
}

// StoreRequest is the body accepted by the ingress endpoint
type StoreRequest struct {
	Agent string          `json:"agent"`
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}
