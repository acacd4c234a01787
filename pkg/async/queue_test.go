package async_test

import (
	"context"
	"testing"
	"time"

	"github.com/brickworks/tlsrelay/pkg/async"
)

func TestQueueRunsInOrder(t *testing.T) {
	q := async.NewQueue(context.Background())
	defer q.Close()

	var order []int
	results := make(chan []int, 1)
	for i := 0; i < 5; i++ {
		i := i
		q.Emit(func(ctx context.Context) {
			order = append(order, i)
			if i == 4 {
				results <- order
			}
		})
	}
	select {
	case got := <-results:
		for i, v := range got {
			if v != i {
				t.Fatalf("out of order: %v", got)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("tasks never ran")
	}
}

func TestQueueCloseStopsWorker(t *testing.T) {
	q := async.NewQueue(context.Background())
	q.Close()
	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("queue did not stop")
	}
}
