package containers

import (
	"errors"
	"testing"
)

func TestRingQueueFIFO(t *testing.T) {
	rq := NewRingQueue[int](4)
	for i := 0; i < 3; i++ {
		rq.Enqueue(i)
	}
	if rq.Len() != 3 {
		t.Fatalf("expected 3 elements, got %d", rq.Len())
	}
	v, err := rq.Peek()
	if err != nil || v != 0 {
		t.Fatalf("peek: got %d, %v", v, err)
	}
	for i := 0; i < 3; i++ {
		v, err := rq.Dequeue()
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if v != i {
			t.Errorf("dequeue %d: got %d", i, v)
		}
	}
	if _, err := rq.Dequeue(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestRingQueueGrowKeepsOrder(t *testing.T) {
	rq := NewRingQueue[int](2)
	// Move the read index so the data wraps before growing.
	rq.Enqueue(-1)
	if _, err := rq.Dequeue(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 7; i++ {
		rq.Enqueue(i)
	}
	if rq.Cap() < 7 {
		t.Fatalf("expected the queue to grow, cap is %d", rq.Cap())
	}
	for i := 0; i < 7; i++ {
		v, err := rq.Dequeue()
		if err != nil {
			t.Fatal(err)
		}
		if v != i {
			t.Fatalf("position %d: got %d", i, v)
		}
	}
	if !rq.IsEmpty() {
		t.Error("queue should be empty")
	}
}
