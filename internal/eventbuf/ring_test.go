package eventbuf

import (
	"reflect"
	"testing"
	"time"

	"dvs-emu-go/internal/types"
)

func ev(x, y int16, ts float64) types.Event {
	return types.Event{X: x, Y: y, Polarity: types.PolarityOn, TimestampUs: ts}
}

func newRing(t *testing.T, capacity int, opts ...Option) *Ring {
	t.Helper()
	r, err := New(capacity, 4, 4, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return r
}

func fixedClock(now float64) Option {
	return WithClock(func() float64 { return now })
}

func TestNewRejectsInvalid(t *testing.T) {
	if _, err := New(0, 4, 4); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
	if _, err := New(4, 0, 4); err == nil {
		t.Fatalf("expected error for zero height")
	}
}

func TestAppendEmptyIsNoop(t *testing.T) {
	r := newRing(t, 4)
	r.Append(nil)
	if r.EventCount() != 0 || r.Len() != 0 {
		t.Fatalf("empty append changed state: count=%d len=%d", r.EventCount(), r.Len())
	}
	if got := r.Recent(1e12); got != nil {
		t.Fatalf("Recent on empty buffer = %v", got)
	}
}

func TestWraparoundKeepsNewest(t *testing.T) {
	const capacity, extra = 5, 3
	r := newRing(t, capacity, fixedClock(1000))
	var all []types.Event
	for i := 0; i < capacity+extra; i++ {
		e := ev(int16(i%4), 0, float64(i))
		all = append(all, e)
		r.Append([]types.Event{e})
	}
	if r.EventCount() != capacity+extra {
		t.Fatalf("EventCount = %d, want %d", r.EventCount(), capacity+extra)
	}
	if r.Len() != capacity {
		t.Fatalf("Len = %d, want %d", r.Len(), capacity)
	}
	got := r.Recent(1e12)
	want := all[extra:]
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("retained mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestBatchWrapsAcrossEnd(t *testing.T) {
	r := newRing(t, 4, fixedClock(100))
	r.Append([]types.Event{ev(0, 0, 1), ev(1, 0, 2), ev(2, 0, 3)})
	r.Append([]types.Event{ev(3, 0, 4), ev(0, 1, 5), ev(1, 1, 6)})

	got := r.Recent(1e12)
	want := []types.Event{ev(2, 0, 3), ev(3, 0, 4), ev(0, 1, 5), ev(1, 1, 6)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestOversizedBatchIsCapped(t *testing.T) {
	r := newRing(t, 3, fixedClock(100))
	r.Append([]types.Event{ev(0, 0, 0)})
	batch := []types.Event{ev(0, 0, 1), ev(1, 0, 2), ev(2, 0, 3), ev(3, 0, 4), ev(3, 0, 5)}
	r.Append(batch)

	if got, want := r.Recent(1e12), batch[2:]; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if r.EventCount() != 6 {
		t.Fatalf("EventCount = %d, want 6", r.EventCount())
	}
	if r.Truncations() != 1 {
		t.Fatalf("Truncations = %d, want 1", r.Truncations())
	}
	density := r.DensityMap(false)
	if density[0][0] != 2 || density[0][3] != 2 {
		t.Fatalf("density did not count the whole batch: %v", density[0])
	}
}

func TestRecentWindow(t *testing.T) {
	const now = 10_000.0
	t1, t2, t3 := 100.0, 5_000.0, 9_000.0
	r := newRing(t, 8, fixedClock(now))
	r.Append([]types.Event{ev(0, 0, t1), ev(1, 1, t2), ev(2, 2, t3)})

	got := r.Recent(now - t2 + 1)
	want := []types.Event{ev(1, 1, t2), ev(2, 2, t3)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if got := r.Recent(10); got != nil {
		t.Fatalf("expected no events in a 10us window, got %+v", got)
	}
}

func TestRecentReturnsCopy(t *testing.T) {
	r := newRing(t, 2, fixedClock(10))
	r.Append([]types.Event{ev(0, 0, 1)})
	got := r.Recent(100)
	r.Append([]types.Event{ev(1, 1, 2), ev(2, 2, 3)})
	if got[0] != ev(0, 0, 1) {
		t.Fatalf("snapshot was overwritten by a later append: %+v", got[0])
	}
}

func TestDensityAccumulatesAndResets(t *testing.T) {
	r := newRing(t, 8)
	r.Append([]types.Event{ev(1, 2, 0), ev(1, 2, 0)})
	r.Append([]types.Event{ev(3, 0, 0), ev(9, 9, 0)})

	got := r.DensityMap(true)
	if got[2][1] != 2 {
		t.Fatalf("density[2][1] = %v, want 2", got[2][1])
	}
	if got[0][3] != 1 {
		t.Fatalf("density[0][3] = %v, want 1", got[0][3])
	}
	for y, row := range r.DensityMap(false) {
		for x, v := range row {
			if v != 0 {
				t.Fatalf("density[%d][%d] = %v after reset", y, x, v)
			}
		}
	}
}

func TestEventRateUsesCompletedInterval(t *testing.T) {
	base := time.Unix(0, 0)
	now := base
	r := newRing(t, 64, WithRateClock(func() time.Time { return now }), WithRateInterval(time.Second))

	now = base.Add(400 * time.Millisecond)
	r.Append(make([]types.Event, 10))
	if r.EventRate() != 0 {
		t.Fatalf("rate published before interval elapsed: %v", r.EventRate())
	}

	now = base.Add(2 * time.Second)
	r.Append(make([]types.Event, 30))
	if r.EventRate() != 20 {
		t.Fatalf("EventRate = %v, want 20", r.EventRate())
	}

	now = now.Add(100 * time.Millisecond)
	r.Append(make([]types.Event, 5))
	if r.EventRate() != 20 {
		t.Fatalf("rate changed mid-interval: %v", r.EventRate())
	}
}

func TestRateIntervalFloor(t *testing.T) {
	r := newRing(t, 4, WithRateInterval(time.Millisecond))
	if r.rateInterval != minRateInterval {
		t.Fatalf("rateInterval = %v, want %v", r.rateInterval, minRateInterval)
	}
}
