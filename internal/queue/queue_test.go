package queue

import "testing"

func TestNew(t *testing.T) {
	q := New()
	if q.Len() != 0 {
		t.Errorf("Expected queue to be empty but it has %d items", q.Len())
	}
}

func TestPush(t *testing.T) {
	q := New()
	for i := 0; i < 10; i++ {
		q.Push(Entry{Key: "k"})
	}
	if q.Len() != 10 {
		t.Errorf("Pushed 10 items onto the queue but it only has %d items", q.Len())
	}
}

func TestAdvanceInOrder(t *testing.T) {
	q := New()
	keys := []string{"a", "b", "c", "d", "e"}
	for _, k := range keys {
		q.Push(Entry{Key: k})
	}
	for i := 0; i < len(keys); i++ {
		head, ok := q.Peek()
		if !ok {
			t.Fatalf("Expected a head entry at step %d", i)
		}
		if head.Key != keys[i] {
			t.Errorf("Peeked %q but expected %q", head.Key, keys[i])
		}
		q.Advance()
	}
	if q.Len() != 0 {
		t.Errorf("Expected queue to be drained but it has %d items", q.Len())
	}
}

func TestRequeueLeavesHeadAndCountsAttempts(t *testing.T) {
	q := New()
	q.Push(Entry{Key: "stuck"})
	q.Push(Entry{Key: "next"})

	head, _ := q.Peek()
	q.Requeue(head)
	head, _ = q.Peek()
	if head.Key != "stuck" {
		t.Errorf("Expected head to remain %q after Retry but got %q", "stuck", head.Key)
	}
	if head.Attempts != 1 {
		t.Errorf("Expected 1 attempt recorded, got %d", head.Attempts)
	}

	q.Requeue(head)
	head, _ = q.Peek()
	if head.Attempts != 2 {
		t.Errorf("Expected 2 attempts recorded, got %d", head.Attempts)
	}

	q.Advance()
	head, _ = q.Peek()
	if head.Key != "next" {
		t.Errorf("Expected next entry %q to be at head, got %q", "next", head.Key)
	}
}
