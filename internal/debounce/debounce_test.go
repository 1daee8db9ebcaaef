package debounce

import (
	"testing"
	"time"
)

func TestDebouncer_CoalescesBurst(t *testing.T) {
	var batches [][]int
	d := New(Config{Window: 20 * time.Millisecond}, func(items []int) {
		batches = append(batches, append([]int(nil), items...))
	})

	for i := range 5 {
		d.Add(i)
	}
	if d.Pending() != 5 {
		t.Fatalf("Pending: got %d, want 5", d.Pending())
	}

	select {
	case <-d.C():
		d.Flush()
	case <-time.After(time.Second):
		t.Fatal("window never expired")
	}

	if len(batches) != 1 || len(batches[0]) != 5 {
		t.Fatalf("batches: got %v, want one batch of 5", batches)
	}
	if d.C() != nil {
		t.Error("C should be nil after flush")
	}
}

func TestDebouncer_MaxBufferFlushesImmediately(t *testing.T) {
	flushed := 0
	d := New(Config{Window: time.Hour, MaxBuffer: 3}, func(items []string) {
		flushed += len(items)
	})

	if d.Add("a") || d.Add("b") {
		t.Fatal("flushed before buffer was full")
	}
	if !d.Add("c") {
		t.Fatal("third item should trigger a flush")
	}
	if flushed != 3 || d.Pending() != 0 {
		t.Errorf("flushed=%d pending=%d", flushed, d.Pending())
	}
}

func TestDebouncer_WindowRestarts(t *testing.T) {
	d := New(Config{Window: 40 * time.Millisecond}, func([]int) {})
	start := time.Now()
	d.Add(1)
	time.Sleep(25 * time.Millisecond)
	d.Add(2)

	<-d.C()
	// The second Add restarted the 40ms window.
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("window fired after %v, expected restart", elapsed)
	}
}

func TestDebouncer_StopDiscards(t *testing.T) {
	called := false
	d := New(Config{}, func([]int) { called = true })
	d.Add(1)
	d.Stop()
	d.Flush()
	if called {
		t.Error("Stop should discard pending items")
	}
	if d.C() != nil {
		t.Error("C should be nil after Stop")
	}
}
