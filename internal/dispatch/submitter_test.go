package dispatch_test

import (
	"testing"

	"github.com/momentics/hioreactor/internal/dispatch"
	"github.com/momentics/hioreactor/internal/rlog"
	"github.com/stretchr/testify/require"
)

func TestSubmitter_SingleModeBackpressureRearms(t *testing.T) {
	q := dispatch.NewQueue(1)
	s := dispatch.NewSubmitter(q, 1, rlog.Nop())

	rearmed := 0
	s.Submit(dispatch.Entry{Task: dispatch.TaskFunc(func() {})})
	require.Equal(t, 1, q.Len())
	require.False(t, s.FailureLatch)

	s.Submit(dispatch.Entry{Task: dispatch.TaskFunc(func() {}), Rearm: func() bool {
		rearmed++
		return true
	}})
	require.True(t, s.FailureLatch)
	require.Equal(t, 1, rearmed)
	require.Equal(t, 1, q.Len())
}

func TestSubmitter_SingleModeClosesConnectionWhenRearmFails(t *testing.T) {
	q := dispatch.NewQueue(1)
	s := dispatch.NewSubmitter(q, 1, rlog.Nop())

	s.Submit(dispatch.Entry{Task: dispatch.TaskFunc(func() {})})
	require.Equal(t, 1, q.Len())

	closed := false
	s.Submit(dispatch.Entry{
		Task:  dispatch.TaskFunc(func() {}),
		Rearm: func() bool { return false },
		Close: func() { closed = true },
	})
	require.True(t, s.FailureLatch)
	require.True(t, closed, "a failed rearm must close the connection instead of leaving it dangling")
}

func TestSubmitter_BatchedModeFlushesAtCapacity(t *testing.T) {
	q := dispatch.NewQueue(10)
	s := dispatch.NewSubmitter(q, 3, rlog.Nop())

	for i := 0; i < 3; i++ {
		s.Submit(dispatch.Entry{Task: dispatch.TaskFunc(func() {})})
	}
	require.Equal(t, 3, q.Len(), "flush should fire once the staging buffer fills")
}

func TestSubmitter_BatchedModePartialFailureRearmsTail(t *testing.T) {
	q := dispatch.NewQueue(2)
	s := dispatch.NewSubmitter(q, 4, rlog.Nop())

	var rearmedIdx []int
	for i := 0; i < 4; i++ {
		i := i
		s.Submit(dispatch.Entry{
			Task: dispatch.TaskFunc(func() {}),
			Rearm: func() bool {
				rearmedIdx = append(rearmedIdx, i)
				return true
			},
		})
	}
	require.Equal(t, 2, q.Len())
	require.Equal(t, []int{2, 3}, rearmedIdx)
	require.True(t, s.FailureLatch)
}

func TestSubmitter_FlushIsNoOpWhenEmpty(t *testing.T) {
	q := dispatch.NewQueue(1)
	s := dispatch.NewSubmitter(q, 4, rlog.Nop())
	s.Flush()
	require.Equal(t, 0, q.Len())
}
