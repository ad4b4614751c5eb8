package sink

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gateguard/jsonx"
	"gateguard/types"
)

func TestEmitWritesNDJSON(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, 16)

	s.Emit(types.VerdictEvent{
		RuleID: "probe-paths",
		Action: types.ActionBlock,
		Key:    "203.0.113.5",
		Path:   "/admin",
		Method: "GET",
	})
	s.Emit(types.VerdictEvent{
		Action: types.ActionAllow,
		Key:    "198.51.100.9",
		Path:   "/",
		Method: "GET",
	})
	s.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)

	var first, second types.VerdictEvent
	assert.NoError(t, jsonx.Unmarshal([]byte(lines[0]), &first))
	assert.NoError(t, jsonx.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "probe-paths", first.RuleID)
	assert.Equal(t, types.ActionBlock, first.Action)
	assert.Equal(t, "/admin", first.Path)
	assert.Equal(t, types.ActionAllow, second.Action)

	// IDs and timestamps are filled in when absent.
	assert.NotEmpty(t, first.ID)
	assert.NotEmpty(t, second.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, first.Timestamp.IsZero())
}

// gatedWriter blocks the drain loop until released, so tests can fill the
// queue deterministically.
type gatedWriter struct {
	buf     bytes.Buffer
	started chan struct{}
	release chan struct{}
	once    bool
}

func (w *gatedWriter) Write(p []byte) (int, error) {
	if !w.once {
		w.once = true
		close(w.started)
		<-w.release
	}
	return w.buf.Write(p)
}

func TestEmitDropsOldestWhenFull(t *testing.T) {
	w := &gatedWriter{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := New(w, 2)

	emit := func(id string) {
		s.Emit(types.VerdictEvent{ID: id, Action: types.ActionAllow, Key: "ip", Path: "/", Method: "GET"})
	}

	// The drain loop picks this up and parks inside Write.
	emit("e1")
	select {
	case <-w.started:
	case <-time.After(2 * time.Second):
		t.Fatal("drain loop never started writing")
	}

	emit("e2")
	emit("e3") // queue is now full
	emit("e4") // sheds e2, the oldest queued event

	close(w.release)
	s.Close()

	out := w.buf.String()
	assert.Contains(t, out, "e1")
	assert.NotContains(t, out, "e2")
	assert.Contains(t, out, "e3")
	assert.Contains(t, out, "e4")
}
