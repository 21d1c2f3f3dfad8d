package bridge

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
}

func newTestQueue() *Queue[*recorder] {
	return NewQueue[*recorder](slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func record(name string) Command[*recorder] {
	return Command[*recorder]{Name: name, Fn: func(r *recorder) { r.calls = append(r.calls, name) }}
}

func TestQueue_ExecutesInSubmissionOrder(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}

	require.NoError(t, q.Submit(record("a")))
	require.NoError(t, q.Submit(record("b")))
	require.NoError(t, q.Submit(record("c")))
	assert.Equal(t, 3, q.Len())

	// Nothing runs before the drain.
	assert.Empty(t, rec.calls)

	n := q.DrainAndExecute(rec)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"a", "b", "c"}, rec.calls)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_SubmitWakes(t *testing.T) {
	q := newTestQueue()
	require.NoError(t, q.Submit(record("a")))
	require.NoError(t, q.Submit(record("b")))

	select {
	case <-q.Wake():
	default:
		t.Fatal("expected wake signal after submit")
	}
}

func TestQueue_ConcurrentSubmittersKeepPerCallerOrder(t *testing.T) {
	const callers = 8
	const perCaller = 200

	type call struct {
		caller int
		seq    int
	}

	q := NewQueue[*[]call](nil)
	var executed []call

	var wg sync.WaitGroup
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func(caller int) {
			defer wg.Done()
			for i := 0; i < perCaller; i++ {
				seq := i
				err := q.Submit(Command[*[]call]{Name: "record", Fn: func(out *[]call) {
					*out = append(*out, call{caller: caller, seq: seq})
				}})
				assert.NoError(t, err)
			}
		}(c)
	}

	submitted := make(chan struct{})
	go func() {
		wg.Wait()
		close(submitted)
	}()

	// Single executing goroutine: this test goroutine.
	deadline := time.After(5 * time.Second)
	done := false
	for !done {
		select {
		case <-q.Wake():
			q.DrainAndExecute(&executed)
		case <-submitted:
			q.DrainAndExecute(&executed)
			done = true
		case <-deadline:
			t.Fatal("timed out waiting for submitters")
		}
	}

	require.Len(t, executed, callers*perCaller)

	next := make(map[int]int)
	for _, c := range executed {
		assert.Equal(t, next[c.caller], c.seq, "caller %d reordered", c.caller)
		next[c.caller] = c.seq + 1
	}
	for c := 0; c < callers; c++ {
		assert.Equal(t, perCaller, next[c])
	}
}

func TestQueue_SubmitAfterCloseReportsClosed(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}

	assert.Equal(t, 0, q.Close())
	assert.True(t, q.Closed())

	err := q.Submit(record("late"))
	assert.ErrorIs(t, err, ErrClosed)

	assert.Equal(t, 0, q.DrainAndExecute(rec))
	assert.Empty(t, rec.calls)
}

func TestQueue_CloseDropsPending(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}

	require.NoError(t, q.Submit(record("a")))
	require.NoError(t, q.Submit(record("b")))

	assert.Equal(t, 2, q.Close())
	assert.Equal(t, 0, q.Close(), "second close drops nothing")

	assert.Equal(t, 0, q.DrainAndExecute(rec))
	assert.Empty(t, rec.calls)
}

func TestQueue_CloseDuringDrainStopsRemainingCommands(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}

	require.NoError(t, q.Submit(Command[*recorder]{Name: "stop", Fn: func(r *recorder) {
		r.calls = append(r.calls, "stop")
		q.Close()
	}}))
	require.NoError(t, q.Submit(record("after")))

	assert.Equal(t, 1, q.DrainAndExecute(rec))
	assert.Equal(t, []string{"stop"}, rec.calls)
}

func TestQueue_DrainIsNotReentrant(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}
	inner := -1

	require.NoError(t, q.Submit(Command[*recorder]{Name: "outer", Fn: func(r *recorder) {
		r.calls = append(r.calls, "outer")
		require.NoError(t, q.Submit(record("queued-from-command")))
		inner = q.DrainAndExecute(r)
	}}))

	n := q.DrainAndExecute(rec)
	assert.Equal(t, 0, inner)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"outer", "queued-from-command"}, rec.calls)
}

func TestQueue_PanickingCommandDoesNotStopDrain(t *testing.T) {
	q := newTestQueue()
	rec := &recorder{}

	var executed []string
	var panics []bool
	q.OnExecuted = func(name string, panicked bool) {
		executed = append(executed, name)
		panics = append(panics, panicked)
	}

	require.NoError(t, q.Submit(Command[*recorder]{Name: "boom", Fn: func(*recorder) { panic("boom") }}))
	require.NoError(t, q.Submit(record("next")))

	assert.Equal(t, 2, q.DrainAndExecute(rec))
	assert.Equal(t, []string{"next"}, rec.calls)
	assert.Equal(t, []string{"boom", "next"}, executed)
	assert.Equal(t, []bool{true, false}, panics)
}
