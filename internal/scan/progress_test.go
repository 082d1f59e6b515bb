package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportSink struct {
	percents []int
	messages []string
}

func (s *reportSink) fn(percent int, message string) {
	s.percents = append(s.percents, percent)
	s.messages = append(s.messages, message)
}

func TestReporter_Monotonic(t *testing.T) {
	sink := &reportSink{}
	r := NewReporter(sink.fn)
	r.minInterval = 0

	r.Report(1, 10, "a")
	r.Report(5, 10, "b")
	r.Report(3, 10, "late sample") // Must not move the bar backwards
	r.Finish("done")

	require.NotEmpty(t, sink.percents)
	last := -1
	for _, p := range sink.percents {
		assert.GreaterOrEqual(t, p, last)
		last = p
	}
	assert.Equal(t, 100, sink.percents[len(sink.percents)-1])
}

func TestReporter_FinishAlwaysEmits100(t *testing.T) {
	sink := &reportSink{}
	r := NewReporter(sink.fn)

	r.Finish("scan complete")
	require.Len(t, sink.percents, 1)
	assert.Equal(t, 100, sink.percents[0])
	assert.Equal(t, "scan complete", sink.messages[0])
}

func TestReporter_FinishIdempotent(t *testing.T) {
	sink := &reportSink{}
	r := NewReporter(sink.fn)

	r.Finish("first")
	r.Finish("second")
	r.Report(5, 10, "after the end")

	assert.Len(t, sink.percents, 1, "nothing is emitted after the terminal report")
}

func TestReporter_ThrottleBypassAt100(t *testing.T) {
	sink := &reportSink{}
	r := NewReporter(sink.fn)

	r.Report(1, 10, "a")   // First report goes through
	r.Report(2, 10, "b")   // Throttled: same window
	r.Report(10, 10, "c")  // 100% bypasses the throttle
	assert.Equal(t, []int{10, 100}, sink.percents)
}

func TestReporter_ZeroTotal(t *testing.T) {
	sink := &reportSink{}
	r := NewReporter(sink.fn)

	r.Report(0, 0, "empty universe")
	assert.Equal(t, []int{100}, sink.percents)
}

func TestReporter_NilCallback(t *testing.T) {
	r := NewReporter(nil)
	r.Report(1, 2, "x")
	r.Finish("y") // Must not panic
}
