package streamer

import (
	"log/slog"
	"testing"

	"github.com/links234/streamcore/internal/config"
)

func TestNewStreamerStartsUnstarted(t *testing.T) {
	t.Parallel()
	s := New(*config.DefaultConfig(), slog.Default())
	if s.started {
		t.Fatal("new streamer should not be marked started")
	}
	if s.books != nil {
		t.Fatal("new streamer should have no book manager until Start")
	}
}

func TestStopBeforeStartIsANoOp(t *testing.T) {
	t.Parallel()
	s := New(*config.DefaultConfig(), slog.Default())
	s.Stop() // must not panic or block
}

func TestEventsBeforeStartPanicsWithoutBroadcaster(t *testing.T) {
	t.Parallel()
	s := New(*config.DefaultConfig(), slog.Default())
	s.broadcaster = nil
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a panic calling Events before Start with no broadcaster, documenting the precondition")
		}
	}()
	_ = s.Events()
}
