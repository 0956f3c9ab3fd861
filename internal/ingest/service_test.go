package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/models"
)

type MockStore struct {
	mu      sync.Mutex
	Written bool
	Err     error
	Players []models.Player
	Stats   [][]models.HeroStat
}

func (m *MockStore) WriteSnapshot(ctx context.Context, player models.Player, stats []models.HeroStat) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	m.Players = append(m.Players, player)
	m.Stats = append(m.Stats, stats)
	return m.Written, nil
}

type MockNotifier struct {
	mu    sync.Mutex
	Calls int
}

func (m *MockNotifier) Notify() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	return m.Calls == 1
}

type MockArchive struct {
	Players  []models.Player
	HeroRows []int
}

func (m *MockArchive) Record(player models.Player, heroRows int, rawJSON string) {
	m.Players = append(m.Players, player)
	m.HeroRows = append(m.HeroRows, heroRows)
}

func newTestService(store *MockStore, n *MockNotifier, a *MockArchive) *Service {
	return NewService(Config{
		Store:   store,
		Trigger: n,
		Archive: a,
		Logger:  zap.NewNop(),
	})
}

func TestIngestStoresAndNotifies(t *testing.T) {
	store := &MockStore{Written: true}
	notifier := &MockNotifier{}
	archive := &MockArchive{}
	svc := newTestService(store, notifier, archive)

	if err := svc.Ingest(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if len(store.Players) != 1 || store.Players[0].PlayerID != "pge_11208_pc" {
		t.Fatalf("unexpected stored players: %+v", store.Players)
	}
	if len(store.Stats[0]) != 2 {
		t.Errorf("stored %d hero rows, want 2", len(store.Stats[0]))
	}
	if notifier.Calls != 1 {
		t.Errorf("Notify called %d times, want 1", notifier.Calls)
	}
	if len(archive.HeroRows) != 1 || archive.HeroRows[0] != 2 {
		t.Errorf("archive rows = %v, want [2]", archive.HeroRows)
	}
}

func TestIngestStaleSnapshotDoesNotNotify(t *testing.T) {
	store := &MockStore{Written: false}
	notifier := &MockNotifier{}
	archive := &MockArchive{}
	svc := newTestService(store, notifier, archive)

	if err := svc.Ingest(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(store.Stats) != 1 || len(store.Stats[0]) != 2 {
		t.Errorf("hero rows handed to store = %v, want one batch of 2", store.Stats)
	}
	if notifier.Calls != 0 {
		t.Errorf("Notify called %d times for stale snapshot", notifier.Calls)
	}
	if len(archive.Players) != 0 {
		t.Errorf("stale snapshot archived")
	}
}

func TestIngestMalformed(t *testing.T) {
	store := &MockStore{Written: true}
	notifier := &MockNotifier{}
	svc := newTestService(store, notifier, nil)

	msg := sampleMessage()
	msg.RawJSON = "not json"

	err := svc.Ingest(context.Background(), msg)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("Ingest() error = %v, want ErrMalformed", err)
	}
	if len(store.Players) != 0 {
		t.Error("store called for malformed document")
	}
	if notifier.Calls != 0 {
		t.Error("Notify called for malformed document")
	}
}

func TestIngestPersistenceFailure(t *testing.T) {
	dbErr := errors.New("connection reset")
	store := &MockStore{Err: dbErr}
	notifier := &MockNotifier{}
	svc := newTestService(store, notifier, nil)

	err := svc.Ingest(context.Background(), sampleMessage())
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Ingest() error = %v, want ErrPersistence", err)
	}
	if !errors.Is(err, dbErr) {
		t.Errorf("underlying error not wrapped: %v", err)
	}
	if errors.Is(err, ErrMalformed) {
		t.Error("persistence failure classified as malformed")
	}
	if notifier.Calls != 0 {
		t.Error("Notify called after failed write")
	}
}

// lwwStore keeps a row only when it is strictly newer than the stored one.
type lwwStore struct {
	players map[string]time.Time
	heroes  map[string]time.Time
}

func newLWWStore() *lwwStore {
	return &lwwStore{players: map[string]time.Time{}, heroes: map[string]time.Time{}}
}

func (m *lwwStore) WriteSnapshot(ctx context.Context, player models.Player, stats []models.HeroStat) (bool, error) {
	written := false
	if prev, ok := m.players[player.PlayerID]; !ok || player.LastUpdated.After(prev) {
		m.players[player.PlayerID] = player.LastUpdated
		written = true
	}
	for _, h := range stats {
		key := h.PlayerID + "/" + h.HeroKey + "/" + h.GameMode
		if prev, ok := m.heroes[key]; !ok || h.LastPlayed.After(prev) {
			m.heroes[key] = h.LastPlayed
		}
	}
	return written, nil
}

func TestIngestOutOfOrderDelivery(t *testing.T) {
	store := newLWWStore()
	notifier := &countingNotifier{}
	svc := NewService(Config{Store: store, Trigger: notifier, Logger: zap.NewNop()})

	newer := sampleMessage()
	newer.FetchTimestamp = fetchedAt.Add(time.Hour)
	older := sampleMessage()

	for _, msg := range []models.FetchMessage{newer, older} {
		if err := svc.Ingest(context.Background(), msg); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	}

	if got := store.players["pge_11208_pc"]; !got.Equal(newer.FetchTimestamp) {
		t.Errorf("stored player timestamp = %v, want %v", got, newer.FetchTimestamp)
	}
	for key, ts := range store.heroes {
		if !ts.Equal(newer.FetchTimestamp) {
			t.Errorf("hero %s timestamp = %v, want %v", key, ts, newer.FetchTimestamp)
		}
	}
	if notifier.calls != 1 {
		t.Errorf("Notify called %d times, want 1 (older snapshot must not notify)", notifier.calls)
	}
}

func TestIngestSameMessageTwiceIsIdempotent(t *testing.T) {
	store := newLWWStore()
	notifier := &countingNotifier{}
	svc := NewService(Config{Store: store, Trigger: notifier, Logger: zap.NewNop()})

	msg := sampleMessage()
	if err := svc.Ingest(context.Background(), msg); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	players, heroes := len(store.players), len(store.heroes)

	if err := svc.Ingest(context.Background(), msg); err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	if len(store.players) != players || len(store.heroes) != heroes {
		t.Errorf("re-ingest changed row counts: players %d -> %d, heroes %d -> %d",
			players, len(store.players), heroes, len(store.heroes))
	}
	if notifier.calls != 1 {
		t.Errorf("Notify called %d times, want 1", notifier.calls)
	}
}

// countingNotifier accepts every notification.
type countingNotifier struct {
	calls int
}

func (n *countingNotifier) Notify() bool {
	n.calls++
	return true
}
