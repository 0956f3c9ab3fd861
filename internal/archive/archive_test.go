package archive

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/models"
)

var fetchedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func player(id string, sr *int) models.Player {
	return models.Player{PlayerID: id, Battletag: id, Platform: "pc", SkillRating: sr, LastUpdated: fetchedAt}
}

func TestWriterFlushesOnStop(t *testing.T) {
	conn := &MockConn{}
	w := NewWriter(Config{Conn: conn, BatchSize: 100, FlushInterval: time.Hour, Logger: zap.NewNop()})
	w.Start()

	sr := 3400
	w.Record(player("a_1_pc", &sr), 2, `{"a":1}`)
	w.Record(player("b_2_pc", nil), 0, `{}`)
	w.Stop()

	rows := conn.rows()
	if len(rows) != 2 {
		t.Fatalf("archived %d rows, want 2", len(rows))
	}
	if got := rows[0][4].(*int32); got == nil || *got != 3400 {
		t.Errorf("skill_rating = %v, want 3400", got)
	}
	if rows[1][4].(*int32) != nil {
		t.Errorf("unranked skill_rating should be NULL")
	}
	if rows[0][5].(uint32) != 2 || rows[0][6].(string) != `{"a":1}` {
		t.Errorf("unexpected row %v", rows[0])
	}
}

func TestWriterFlushesFullBatches(t *testing.T) {
	conn := &MockConn{}
	w := NewWriter(Config{Conn: conn, BatchSize: 2, QueueSize: 10, FlushInterval: time.Hour, Logger: zap.NewNop()})
	w.Start()

	for i := 0; i < 5; i++ {
		w.Record(player("p", nil), 1, "{}")
	}
	w.Stop()

	if n := len(conn.rows()); n != 5 {
		t.Errorf("archived %d rows, want 5", n)
	}
	if n := len(conn.Batches); n != 3 {
		t.Errorf("sent %d batches, want 3", n)
	}
}

func TestRecordNeverBlocks(t *testing.T) {
	conn := &MockConn{}
	// Not started: nothing drains the queue.
	w := NewWriter(Config{Conn: conn, QueueSize: 1, Logger: zap.NewNop()})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			w.Record(player("p", nil), 1, "{}")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	if len(w.queue) != 1 {
		t.Errorf("queue depth = %d, want 1", len(w.queue))
	}
}

func TestRecordAfterStopIsDropped(t *testing.T) {
	conn := &MockConn{}
	w := NewWriter(Config{Conn: conn, Logger: zap.NewNop()})
	w.Start()
	w.Stop()
	w.Stop()

	w.Record(player("late", nil), 1, "{}")
	if len(w.queue) != 0 {
		t.Error("snapshot queued after Stop")
	}
}

func TestPlayerHistory(t *testing.T) {
	conn := &MockConn{HistoryRow: [][]any{
		{fetchedAt, int32(3400), uint32(12)},
		{fetchedAt.Add(-time.Hour), nil, uint32(3)},
	}}
	w := NewWriter(Config{Conn: conn, Logger: zap.NewNop()})

	got, err := w.PlayerHistory(context.Background(), "pge_11208_pc", 25)
	if err != nil {
		t.Fatalf("PlayerHistory() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d points, want 2", len(got))
	}
	if got[0].SkillRating == nil || *got[0].SkillRating != 3400 || got[0].HeroRows != 12 {
		t.Errorf("first point = %+v", got[0])
	}
	if got[1].SkillRating != nil {
		t.Errorf("second point SkillRating = %v, want nil", *got[1].SkillRating)
	}
	if conn.QueryArgs[0] != "pge_11208_pc" || conn.QueryArgs[1] != 25 {
		t.Errorf("query args = %v", conn.QueryArgs)
	}
}

func TestEnsureSchema(t *testing.T) {
	conn := &MockConn{}
	if err := EnsureSchema(context.Background(), conn); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if len(conn.Execs) != 2 {
		t.Errorf("executed %d statements, want 2", len(conn.Execs))
	}
}
