package clock

import (
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	c := Fake(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Expected %v, got %v", start, c.Now())
	}

	c.Advance(time.Hour)
	if want := start.Add(time.Hour); !c.Now().Equal(want) {
		t.Errorf("Expected %v after Advance, got %v", want, c.Now())
	}

	c.Sleep(10 * time.Millisecond)
	c.Sleep(-time.Second)
	if c.Slept() != 10*time.Millisecond {
		t.Errorf("Expected 10ms slept, got %v", c.Slept())
	}
	if want := start.Add(time.Hour + 10*time.Millisecond); !c.Now().Equal(want) {
		t.Errorf("Expected %v after Sleep, got %v", want, c.Now())
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("Expected Set to jump back to %v, got %v", start, c.Now())
	}
}
