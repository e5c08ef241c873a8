package testing

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestGoroutineTestBasic(t *testing.T) {
	gt := NewGoroutineTest(t)
	defer gt.Wait()

	for i := 0; i < 5; i++ {
		i := i
		gt.Go(func() error {
			if i < 0 {
				return fmt.Errorf("unexpected negative index: %d", i)
			}
			return nil
		})
	}
}

func TestGoroutineTestWithContext(t *testing.T) {
	gt := NewGoroutineTest(t)
	defer gt.Wait()

	gt.GoWithContext(func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return nil
		}
	})
}

func TestEventually(t *testing.T) {
	var ready atomic.Bool
	go func() {
		time.Sleep(20 * time.Millisecond)
		ready.Store(true)
	}()

	if err := Eventually(time.Second, 5*time.Millisecond, ready.Load); err != nil {
		t.Fatalf("Eventually: %v", err)
	}

	if err := Eventually(20*time.Millisecond, 5*time.Millisecond, func() bool { return false }); err == nil {
		t.Error("expected timeout error")
	}
}

func TestClock(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	c := NewClock(start)

	if !c.Now().Equal(start) {
		t.Errorf("expected %v, got %v", start, c.Now())
	}

	c.Advance(time.Hour)
	if !c.Now().Equal(start.Add(time.Hour)) {
		t.Errorf("expected %v, got %v", start.Add(time.Hour), c.Now())
	}
}

func TestPayloadGenerators(t *testing.T) {
	doc := RepetitiveJSON(4096)
	if len(doc) < 4096 {
		t.Errorf("expected at least 4096 bytes, got %d", len(doc))
	}
	if !json.Valid(doc) {
		t.Error("repetitive payload should be valid JSON")
	}

	a := RandomBytes(128, 1)
	b := RandomBytes(128, 1)
	if string(a) != string(b) {
		t.Error("same seed should produce the same bytes")
	}
}
