package clock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/artpar/entitycore/adapters/clock"
)

func TestReal_Now(t *testing.T) {
	before := time.Now().UTC().Truncate(time.Microsecond)
	got := clock.Real{}.Now()
	after := time.Now().UTC()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", got, before, after)
	}
	if got.Location() != time.UTC {
		t.Errorf("Now() location = %v, want UTC", got.Location())
	}
	if got.Nanosecond()%1000 != 0 {
		t.Errorf("Now() = %v, want microsecond precision", got)
	}
}

func TestFake(t *testing.T) {
	start := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		act  func(c *clock.Fake)
		want time.Time
	}{
		{"unchanged", func(*clock.Fake) {}, start},
		{"set", func(c *clock.Fake) { c.Set(start.AddDate(1, 0, 0)) }, start.AddDate(1, 0, 0)},
		{"advance", func(c *clock.Fake) { c.Advance(time.Hour) }, start.Add(time.Hour)},
		{"advance twice", func(c *clock.Fake) {
			c.Advance(time.Hour)
			c.Advance(90 * time.Second)
		}, start.Add(time.Hour + 90*time.Second)},
		{"advance backwards", func(c *clock.Fake) { c.Advance(-time.Hour) }, start.Add(-time.Hour)},
		{"set after advance", func(c *clock.Fake) {
			c.Advance(time.Hour)
			c.Set(start)
		}, start},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := clock.NewFake(start)
			tt.act(c)
			// Reads do not move a fake clock without a step.
			for i := 0; i < 3; i++ {
				if got := c.Now(); !got.Equal(tt.want) {
					t.Fatalf("read %d: Now() = %v, want %v", i, got, tt.want)
				}
			}
		})
	}
}

func TestTicking_Now(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewTicking(start, time.Second)

	for i := 0; i < 3; i++ {
		want := start.Add(time.Duration(i) * time.Second)
		if got := c.Now(); !got.Equal(want) {
			t.Errorf("read %d: Now() = %v, want %v", i, got, want)
		}
	}

	// Timestamps taken by successive saves stay strictly ordered.
	c.Advance(time.Minute)
	first, second := c.Now(), c.Now()
	if !second.After(first) {
		t.Errorf("ticking clock should advance: %v then %v", first, second)
	}
}

func TestTicking_Concurrent(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewTicking(start, time.Millisecond)

	const readers = 20
	var wg sync.WaitGroup
	seen := make(chan time.Time, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Now()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		unique[ts] = true
	}
	if len(unique) != readers {
		t.Errorf("got %d distinct times from %d reads", len(unique), readers)
	}
	if want := start.Add(readers * time.Millisecond); !c.Now().Equal(want) {
		t.Errorf("clock after %d reads = %v, want %v", readers, c.Now(), want)
	}
}
