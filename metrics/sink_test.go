package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoopDiscardsEverything(t *testing.T) {
	var s Sink = Noop{}
	require.NotPanics(t, func() {
		s.Incr("select", 1)
		s.Timing("select", time.Millisecond)
	})
}

func TestErrorStat(t *testing.T) {
	require.Equal(t, "select.error", ErrorStat("select"))
	require.Equal(t, "ping.error", ErrorStat("ping"))
}

func TestStatsdSinkNilClientIsSafe(t *testing.T) {
	sink := NewStatsdSink(nil)
	require.NotPanics(t, func() {
		sink.Incr("insert", 1)
		sink.Timing("insert", time.Millisecond)
	})
}

func TestSanitizeReplacesSpaces(t *testing.T) {
	require.Equal(t, "my_stat", sanitize("my stat"))
}
