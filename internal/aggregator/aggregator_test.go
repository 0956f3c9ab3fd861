package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/clock"
)

type MockStore struct {
	mu    sync.Mutex
	Calls map[string]int
	Nows  []time.Time
	Errs  map[string]error
	Panic string
}

func (m *MockStore) record(name string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Calls == nil {
		m.Calls = make(map[string]int)
	}
	m.Calls[name]++
	m.Nows = append(m.Nows, now)
	if m.Panic == name {
		panic("boom")
	}
	if err := m.Errs[name]; err != nil {
		return 0, err
	}
	return 8, nil
}

func (m *MockStore) RecomputeHeroStatistics(ctx context.Context, now time.Time) (int64, error) {
	return m.record(PassHeroStatistics, now)
}

func (m *MockStore) RecomputeRankDistribution(ctx context.Context, now time.Time) (int64, error) {
	return m.record(PassRankDistribution, now)
}

func (m *MockStore) RecomputeHeroTrends(ctx context.Context, now time.Time) (int64, error) {
	return m.record(PassHeroTrends, now)
}

func (m *MockStore) RecomputeRoleStatistics(ctx context.Context, now time.Time) (int64, error) {
	return m.record(PassRoleStatistics, now)
}

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRunExecutesAllPasses(t *testing.T) {
	store := &MockStore{}
	a := New(Config{Store: store, Clock: clock.NewFake(start), Logger: zap.NewNop()})

	run := a.Run(context.Background(), "manual")

	if run.ID == "" {
		t.Error("run has no ID")
	}
	if len(run.Passes) != 4 || run.Failed() != 0 {
		t.Fatalf("unexpected passes: %+v", run.Passes)
	}
	wantOrder := []string{PassHeroStatistics, PassRankDistribution, PassHeroTrends, PassRoleStatistics}
	for i, p := range run.Passes {
		if p.Pass != wantOrder[i] {
			t.Errorf("pass[%d] = %s, want %s", i, p.Pass, wantOrder[i])
		}
		if p.Rows != 8 {
			t.Errorf("pass %s rows = %d, want 8", p.Pass, p.Rows)
		}
	}
	for _, now := range store.Nows {
		if !now.Equal(start) {
			t.Errorf("pass ran with now=%v, want %v", now, start)
		}
	}
}

func TestFailingPassDoesNotBlockOthers(t *testing.T) {
	store := &MockStore{
		Errs:  map[string]error{PassRankDistribution: errors.New("relation missing")},
		Panic: PassHeroTrends,
	}
	a := New(Config{Store: store, Logger: zap.NewNop()})

	run := a.Run(context.Background(), "manual")

	if run.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", run.Failed())
	}
	for _, name := range []string{PassHeroStatistics, PassRankDistribution, PassHeroTrends, PassRoleStatistics} {
		if store.Calls[name] != 1 {
			t.Errorf("pass %s called %d times, want 1", name, store.Calls[name])
		}
	}
	if run.Passes[1].Error != "relation missing" {
		t.Errorf("rank pass error = %q", run.Passes[1].Error)
	}
	if run.Passes[2].Error != "panic" {
		t.Errorf("trend pass error = %q", run.Passes[2].Error)
	}
}

func TestHooksSeeEveryRun(t *testing.T) {
	a := New(Config{Store: &MockStore{}, Logger: zap.NewNop()})

	var runs []Run
	a.OnComplete(func(ctx context.Context, run Run) { runs = append(runs, run) })

	a.Run(context.Background(), "schedule")
	a.Fire(context.Background())

	if len(runs) != 2 {
		t.Fatalf("hook called %d times, want 2", len(runs))
	}
	if runs[0].Trigger != "schedule" || runs[1].Trigger != "ingest" {
		t.Errorf("triggers = %s, %s", runs[0].Trigger, runs[1].Trigger)
	}
	if runs[0].ID == runs[1].ID {
		t.Error("runs share an ID")
	}
}
