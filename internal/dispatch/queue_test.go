package dispatch_test

import (
	"testing"

	"github.com/momentics/hioreactor/internal/dispatch"
	"github.com/stretchr/testify/require"
)

func TestQueue_TryPushRespectsCapacity(t *testing.T) {
	q := dispatch.NewQueue(2)
	require.True(t, q.TryPush(dispatch.TaskFunc(func() {})))
	require.True(t, q.TryPush(dispatch.TaskFunc(func() {})))
	require.False(t, q.TryPush(dispatch.TaskFunc(func() {})))
	require.Equal(t, 2, q.Len())
}

func TestQueue_TryPushBulkPartial(t *testing.T) {
	q := dispatch.NewQueue(3)
	tasks := make([]dispatch.Task, 5)
	for i := range tasks {
		tasks[i] = dispatch.TaskFunc(func() {})
	}
	n := q.TryPushBulk(tasks)
	require.Equal(t, 3, n)
	require.Equal(t, 3, q.Len())
}

func TestQueue_TryPopBulkDrainsUpToMax(t *testing.T) {
	q := dispatch.NewQueue(8)
	for i := 0; i < 5; i++ {
		q.TryPush(dispatch.TaskFunc(func() {}))
	}
	got := q.TryPopBulk(3)
	require.Len(t, got, 3)
	require.Equal(t, 2, q.Len())

	rest := q.TryPopBulk(10)
	require.Len(t, rest, 2)
	require.Equal(t, 0, q.Len())

	require.Nil(t, q.TryPopBulk(1))
}

func TestQueue_PopFIFO(t *testing.T) {
	q := dispatch.NewQueue(4)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		q.TryPush(dispatch.TaskFunc(func() { order = append(order, i) }))
	}
	for i := 0; i < 3; i++ {
		task, ok := q.TryPop()
		require.True(t, ok)
		task.Run()
	}
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestQueue_PopBlocksUntilClosed(t *testing.T) {
	q := dispatch.NewQueue(1)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	q.Close()
	require.False(t, <-done)
}

func TestQueue_PopUnblocksOnPush(t *testing.T) {
	q := dispatch.NewQueue(1)
	result := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		result <- ok
	}()
	require.True(t, q.TryPush(dispatch.TaskFunc(func() {})))
	require.True(t, <-result)
}
