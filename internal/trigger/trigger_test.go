package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/clock"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newCounting(c clock.Clock) (*Trigger, *atomic.Int32) {
	var fires atomic.Int32
	tr := New(Config{
		Cooldown: 2 * time.Minute,
		Clock:    c,
		Logger:   zap.NewNop(),
		Fire:     func(ctx context.Context) { fires.Add(1) },
	})
	return tr, &fires
}

func TestTwiceWithinCooldownFiresOnce(t *testing.T) {
	fc := clock.NewFake(start)
	tr, fires := newCounting(fc)
	defer tr.Stop()

	if !tr.Notify() {
		t.Fatal("first Notify() should fire")
	}
	tr.Wait()

	fc.Advance(time.Minute)
	if tr.Notify() {
		t.Error("second Notify() within cooldown should be dropped")
	}
	tr.Wait()

	if got := fires.Load(); got != 1 {
		t.Errorf("fires = %d, want 1", got)
	}
	if tr.State() != Cooldown {
		t.Errorf("State() = %v, want cooldown", tr.State())
	}
}

func TestFiresAgainAfterCooldown(t *testing.T) {
	fc := clock.NewFake(start)
	tr, fires := newCounting(fc)
	defer tr.Stop()

	tr.Notify()
	tr.Wait()

	fc.Advance(2*time.Minute + time.Second)
	if tr.State() != Idle {
		t.Errorf("State() = %v, want idle", tr.State())
	}
	if !tr.Notify() {
		t.Error("Notify() after cooldown should fire")
	}
	tr.Wait()

	if got := fires.Load(); got != 2 {
		t.Errorf("fires = %d, want 2", got)
	}
}

func TestExactlyAtCooldownBoundaryIsDropped(t *testing.T) {
	fc := clock.NewFake(start)
	tr, fires := newCounting(fc)
	defer tr.Stop()

	tr.Notify()
	tr.Wait()
	fc.Advance(2 * time.Minute)
	tr.Notify()
	tr.Wait()

	if got := fires.Load(); got != 1 {
		t.Errorf("fires = %d, want 1", got)
	}
}

func TestBusyFireDropsEvenAfterCooldown(t *testing.T) {
	fc := clock.NewFake(start)
	release := make(chan struct{})
	var fires atomic.Int32
	tr := New(Config{
		Cooldown: 2 * time.Minute,
		Clock:    fc,
		Logger:   zap.NewNop(),
		Fire: func(ctx context.Context) {
			fires.Add(1)
			<-release
		},
	})
	defer tr.Stop()

	tr.Notify()
	fc.Advance(5 * time.Minute)
	if tr.Notify() {
		t.Error("Notify() while a fire is running should be dropped")
	}

	close(release)
	tr.Wait()
	if got := fires.Load(); got != 1 {
		t.Errorf("fires = %d, want 1", got)
	}
}

func TestConcurrentNotifyFiresOnce(t *testing.T) {
	fc := clock.NewFake(start)
	tr, fires := newCounting(fc)
	defer tr.Stop()

	var wg sync.WaitGroup
	var won atomic.Int32
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Notify() {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	tr.Wait()

	if won.Load() != 1 || fires.Load() != 1 {
		t.Errorf("won=%d fires=%d, want 1 and 1", won.Load(), fires.Load())
	}
}

func TestStopCancelsAndDropsEvents(t *testing.T) {
	fc := clock.NewFake(start)
	cancelled := make(chan struct{})
	tr := New(Config{
		Clock:  fc,
		Logger: zap.NewNop(),
		Fire: func(ctx context.Context) {
			<-ctx.Done()
			close(cancelled)
		},
	})

	tr.Notify()
	tr.Stop()

	select {
	case <-cancelled:
	default:
		t.Fatal("fire context was not cancelled by Stop")
	}

	fc.Advance(time.Hour)
	if tr.Notify() {
		t.Error("Notify() after Stop should be dropped")
	}
}
