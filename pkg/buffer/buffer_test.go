package buffer

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type frame struct {
	mac     string
	counter byte
}

func TestNew_MinimumCapacity(t *testing.T) {
	buf := New[frame](0, nil)

	if buf.Capacity() != 1 {
		t.Errorf("Expected capacity 1, got %d", buf.Capacity())
	}
	if buf.Size() != 0 {
		t.Errorf("Expected size 0, got %d", buf.Size())
	}
}

func TestGetAllAndClear_Empty(t *testing.T) {
	buf := New[frame](5, zap.NewNop())

	if items := buf.GetAllAndClear(); items != nil {
		t.Errorf("Expected nil for empty buffer, got %v", items)
	}
}

func TestGetAllAndClear_KeepsArrivalOrder(t *testing.T) {
	buf := New[frame](5, zap.NewNop())
	for i := byte(1); i <= 3; i++ {
		buf.Add(frame{mac: "A4:C1:38:00:00:01", counter: i})
	}

	items := buf.GetAllAndClear()
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}
	for i, item := range items {
		if item.counter != byte(i+1) {
			t.Errorf("Expected counter %d at %d, got %d", i+1, i, item.counter)
		}
	}

	if buf.Size() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", buf.Size())
	}

	buf.Add(frame{counter: 9})
	if got := buf.GetAllAndClear(); len(got) != 1 || got[0].counter != 9 {
		t.Errorf("Expected [9] after clear, got %v", got)
	}
}

func TestAdd_OverflowKeepsNewest(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	buf := New[int](3, zap.New(core))

	for i := 1; i <= 5; i++ {
		buf.Add(i)
	}

	if buf.Size() != 3 {
		t.Errorf("Expected size 3, got %d", buf.Size())
	}
	if buf.Dropped() != 2 {
		t.Errorf("Expected 2 dropped, got %d", buf.Dropped())
	}
	if logs.Len() != 2 {
		t.Errorf("Expected 2 overflow warnings, got %d", logs.Len())
	}

	items := buf.GetAllAndClear()
	expected := []int{3, 4, 5}
	if len(items) != len(expected) {
		t.Fatalf("Expected %d items, got %d", len(expected), len(items))
	}
	for i := range expected {
		if items[i] != expected[i] {
			t.Errorf("Expected item[%d]=%d, got %d", i, expected[i], items[i])
		}
	}
}

func TestAddMultiple_RequeuesFailedBatch(t *testing.T) {
	buf := New[int](4, zap.NewNop())
	buf.Add(1)
	buf.Add(2)

	batch := buf.GetAllAndClear()
	buf.Add(3)
	buf.AddMultiple(batch)

	items := buf.GetAllAndClear()
	expected := []int{3, 1, 2}
	if len(items) != len(expected) {
		t.Fatalf("Expected %d items, got %d", len(expected), len(items))
	}
	for i := range expected {
		if items[i] != expected[i] {
			t.Errorf("Expected item[%d]=%d, got %d", i, expected[i], items[i])
		}
	}

	buf.AddMultiple(nil)
	if buf.Size() != 0 {
		t.Errorf("Expected size 0, got %d", buf.Size())
	}
}

func TestConcurrentAccess(t *testing.T) {
	buf := New[int](100, zap.NewNop())
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(val int) {
			defer wg.Done()
			for j := 0; j < 15; j++ {
				buf.Add(val*100 + j)
			}
		}(i)
	}
	wg.Wait()

	if buf.Size() != 100 {
		t.Errorf("Expected size 100, got %d", buf.Size())
	}
	if buf.Dropped() != 50 {
		t.Errorf("Expected 50 dropped, got %d", buf.Dropped())
	}
	if items := buf.GetAllAndClear(); len(items) != 100 {
		t.Errorf("Expected 100 items, got %d", len(items))
	}
}
