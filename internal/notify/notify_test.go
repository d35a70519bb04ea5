package notify

import (
	"testing"
)

func TestQueue_DrainReturnsInOrder(t *testing.T) {
	q := NewQueue(10, nil)
	q.Success("Paid", "Bill b1 paid")
	q.Error("Failed", "")
	q.Info("Hello", "")

	toasts := q.Drain()
	if len(toasts) != 3 {
		t.Fatalf("len = %d, want 3", len(toasts))
	}
	want := []Level{LevelSuccess, LevelError, LevelInfo}
	for i, toast := range toasts {
		if toast.Level != want[i] {
			t.Errorf("toasts[%d].Level = %q, want %q", i, toast.Level, want[i])
		}
	}
	if toasts[0].Description != "Bill b1 paid" {
		t.Errorf("Description = %q, want %q", toasts[0].Description, "Bill b1 paid")
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", q.Len())
	}
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewQueue(2, nil)
	q.Info("one", "")
	q.Info("two", "")
	q.Info("three", "")

	toasts := q.Drain()
	if len(toasts) != 2 {
		t.Fatalf("len = %d, want 2", len(toasts))
	}
	if toasts[0].Title != "two" || toasts[1].Title != "three" {
		t.Errorf("titles = %q, %q, want two, three", toasts[0].Title, toasts[1].Title)
	}
}

func TestQueue_DrainEmptyIsNotNil(t *testing.T) {
	q := NewQueue(0, nil)
	if toasts := q.Drain(); toasts == nil {
		t.Error("Drain on empty queue returned nil, want empty slice")
	}
}
