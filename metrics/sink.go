// Package metrics provides the pluggable counter/timer interface the
// connection core reports to on every dispatch, and a StatsD-backed
// adapter for it. The reference proxy this client generalizes from
// called statsdClient.Incr("select", 1) and friends directly from its
// request handlers; here that pattern is lifted out into an interface
// so the client core does not hard-depend on any particular backend.
package metrics

import (
	"strings"
	"time"

	"github.com/quipo/statsd"
)

// Sink receives counters and timing samples from a Connection. Stat
// names are bare operation names ("select", "insert", ...); callers
// that need a namespaced hierarchy should wrap Sink with their own
// prefixing.
type Sink interface {
	Incr(stat string, n int64)
	Timing(stat string, d time.Duration)
}

// Noop discards everything. It is the default Sink when none is
// configured.
type Noop struct{}

func (Noop) Incr(string, int64)          {}
func (Noop) Timing(string, time.Duration) {}

// StatsdSink adapts github.com/quipo/statsd to the Sink interface,
// mirroring the per-operation counters (select, insert, update,
// delete, call, eval, ping) and the ".error" suffix the reference
// proxy emitted from its request handlers.
type StatsdSink struct {
	client statsd.Statsd
}

// NewStatsdSink wraps an already-configured statsd.Statsd client. Use
// statsd.NewStatsdBuffer around a statsd.NewStatsdClient the way the
// reference daemon's createStatsdClient does, to batch and flush on
// an interval instead of sending a UDP packet per call.
func NewStatsdSink(client statsd.Statsd) *StatsdSink {
	return &StatsdSink{client: client}
}

func (s *StatsdSink) Incr(stat string, n int64) {
	if s == nil || s.client == nil {
		return
	}
	_ = s.client.Incr(sanitize(stat), n)
}

func (s *StatsdSink) Timing(stat string, d time.Duration) {
	if s == nil || s.client == nil {
		return
	}
	_ = s.client.Timing(sanitize(stat), d.Milliseconds())
}

// sanitize keeps stat names graphite/statsd friendly by replacing
// spaces with underscores; dots are left as they are.
func sanitize(stat string) string {
	stat = strings.ReplaceAll(stat, " ", "_")
	return stat
}

// ErrorStat appends the ".error" suffix the reference proxy used for
// its error_16 counter family, scoped per operation instead of to a
// single bucket.
func ErrorStat(op string) string {
	return op + ".error"
}
