package simulator

import (
	"context"
	"testing"
	"time"

	"dvs-emu-go/internal/mailbox"
)

func TestSceneMovesDisc(t *testing.T) {
	s := NewScene(Config{Height: 40, Width: 60, Seed: 1})
	a := make([]uint8, 40*60)
	b := make([]uint8, 40*60)
	s.Render(0, a)
	s.Render(time.Second, b)

	changed := 0
	for i := range a {
		if a[i] != b[i] {
			changed++
		}
	}
	if changed == 0 {
		t.Fatalf("scene did not change between renders")
	}
	if a[0] != 40 {
		t.Fatalf("noise-free background = %d, want 40", a[0])
	}
}

func TestClampByte(t *testing.T) {
	cases := map[float64]uint8{-5: 0, 0: 0, 12.4: 12, 12.6: 13, 300: 255}
	for in, want := range cases {
		if got := clampByte(in); got != want {
			t.Fatalf("clampByte(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestRunPublishesIncreasingIndices(t *testing.T) {
	mb := mailbox.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, Config{Height: 4, Width: 4, FPS: 200}, mb)
		close(done)
	}()

	first, err := mb.Wait(ctx, 0)
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	second, err := mb.Wait(ctx, first.Index)
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if second.Index <= first.Index || second.TimestampUs < first.TimestampUs {
		t.Fatalf("frames out of order: %+v then %+v", first.Index, second.Index)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("simulator did not stop")
	}
}
