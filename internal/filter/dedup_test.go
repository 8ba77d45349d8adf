package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memorypilot/watchagent/internal/config"
	"github.com/memorypilot/watchagent/pkg/models"
)

func window(name, title string, x int64) models.ApplicationEvent {
	return models.ApplicationEvent{
		Name:   name,
		Title:  title,
		X:      x,
		Width:  800,
		Height: 600,
		Text:   name + " " + title,
	}
}

func poll(app models.ApplicationEvent) models.Event {
	return models.Event{Kind: models.KindApplication, Origin: models.OriginPoll, Payload: app}
}

func TestImmediateRepeatsSuppressed(t *testing.T) {
	f := NewWindow()
	cfg := config.Default()

	e1 := window("Editor", "a.go", 0)
	e2 := window("Browser", "docs", 0)

	var emitted []models.ApplicationEvent
	for _, e := range []models.ApplicationEvent{e1, e1, e2, e1} {
		if f.Check(poll(e), cfg) == Accepted {
			emitted = append(emitted, e)
		}
	}
	assert.Equal(t, []models.ApplicationEvent{e1, e2, e1}, emitted)
}

func TestTimestampAndTitleOnlyChangesAreNotDistinct(t *testing.T) {
	f := NewWindow()
	cfg := config.Default()

	a := window("Editor", "a.go", 0)
	b := a
	b.T = 99
	b.Title = "different"

	assert.Equal(t, Accepted, f.Check(poll(a), cfg))
	assert.Equal(t, Duplicate, f.Check(poll(b), cfg))
}

func TestGeometryChangeIsDistinct(t *testing.T) {
	f := NewWindow()
	cfg := config.Default()

	assert.Equal(t, Accepted, f.Check(poll(window("Editor", "a.go", 0)), cfg))
	assert.Equal(t, Accepted, f.Check(poll(window("Editor", "a.go", 10)), cfg))
}

func TestIgnoredNeverBecomesLast(t *testing.T) {
	f := NewWindow()
	cfg := config.Parse(`{"ignore": ["Dock"]}`)

	editor := window("Editor", "a.go", 0)
	dock := window("Dock", "", 0)

	assert.Equal(t, Accepted, f.Check(poll(editor), cfg))
	assert.Equal(t, Ignored, f.Check(poll(dock), cfg))

	last, ok := f.dedup.Last()
	assert.True(t, ok)
	assert.Equal(t, editor.Signature(), last)

	// Returning to the editor is still "same as last"
	assert.Equal(t, Duplicate, f.Check(poll(editor), cfg))

	// Un-ignoring makes the dock a fresh distinct event
	assert.Equal(t, Accepted, f.Check(poll(dock), config.Default()))
}

func TestIgnoreIsCaseSensitive(t *testing.T) {
	f := NewWindow()
	cfg := config.Parse(`{"ignore": ["dock"]}`)

	assert.Equal(t, Accepted, f.Check(poll(window("Dock", "", 0)), cfg))
}

func TestIngressBypassesFilter(t *testing.T) {
	f := NewWindow()
	cfg := config.Parse(`{"ignore": ["Editor"]}`)
	app := window("Editor", "a.go", 0)
	ev := models.Event{Kind: "note", Origin: models.OriginIngress, Payload: app}

	assert.Equal(t, Accepted, f.Check(ev, cfg))
	assert.Equal(t, Accepted, f.Check(ev, cfg))
	_, ok := f.dedup.Last()
	assert.False(t, ok)
}

func TestNonWindowPayloadPasses(t *testing.T) {
	f := NewWindow()
	ev := models.Event{Kind: "other", Origin: models.OriginPoll, Payload: map[string]int{"a": 1}}

	assert.Equal(t, Accepted, f.Check(ev, config.Default()))
	assert.Equal(t, Accepted, f.Check(ev, config.Default()))
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "accepted", Accepted.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "ignored", Ignored.String())
	assert.Equal(t, "unknown", Verdict(42).String())
}
