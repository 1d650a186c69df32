package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/pkg/score"
	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func report(id string, started time.Time) *run.Report {
	return &run.Report{
		RunID:      id,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Config:     run.Request{Rounds: 2},
		Total:      4,
		Completed:  4,
		Results: []types.Outcome{
			{EndpointID: "root", ProviderID: "a", Status: 200, Success: true},
			{EndpointID: "root", ProviderID: "b", Status: 0, Error: "dial tcp: refused"},
		},
		Summary: score.Summary{
			Providers: []score.ProviderScore{
				{ProviderID: "a", Name: "Alpha", Passed: 1, Total: 1, PassRate: 1, State: score.StateHealthy},
				{ProviderID: "b", Name: "Beta", Passed: 0, Total: 1, State: score.StateCritical},
			},
			Issues:    []string{score.IssueText("Beta")},
			Threshold: 0.7,
		},
	}
}

func TestStore_PutAndLast(t *testing.T) {
	st := New()
	if _, ok := st.Last(); ok {
		t.Fatal("Last on empty store: expected false")
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	st.now = fixedClock(now)
	st.Put(report("r1", now))

	e, ok := st.Last()
	if !ok {
		t.Fatal("Last: expected entry")
	}
	if e.Report.RunID != "r1" || !e.UpdatedAt.Equal(now) {
		t.Errorf("got %s at %v", e.Report.RunID, e.UpdatedAt)
	}
}

func TestStore_PutReplaces(t *testing.T) {
	st := New()
	st.Put(report("r1", time.Now()))
	st.Put(report("r2", time.Now()))

	e, _ := st.Last()
	if e.Report.RunID != "r2" {
		t.Errorf("RunID: got %q, want r2", e.Report.RunID)
	}
	st.Put(nil)
	if e, _ := st.Last(); e.Report.RunID != "r2" {
		t.Error("nil Put should be ignored")
	}
}

func TestStore_Running(t *testing.T) {
	st := New()
	st.Begin("r1")
	st.Begin("r2")
	if n := st.Running(); n != 2 {
		t.Fatalf("Running: got %d, want 2", n)
	}
	st.Put(report("r1", time.Now()))
	if n := st.Running(); n != 1 {
		t.Fatalf("Running after one finish: got %d, want 1", n)
	}
	st.Put(report("r2", time.Now()))
	if n := st.Running(); n != 0 {
		t.Errorf("Running after finish: got %d, want 0", n)
	}
}

func TestStore_BeginKeepsPreviousReport(t *testing.T) {
	st := New()
	st.Put(report("r1", time.Now()))
	st.Begin("r2")

	e, ok := st.Last()
	if !ok || e.Report.RunID != "r1" {
		t.Fatalf("Last while r2 runs: got %+v, want r1", e)
	}
	st.Put(report("r2", time.Now()))
	if e, _ := st.Last(); e.Report.RunID != "r2" {
		t.Errorf("Last after r2 ends: got %q, want r2", e.Report.RunID)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	st := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.Put(report("r", time.Now()))
		}()
		go func() {
			defer wg.Done()
			st.Last()
			st.Running()
		}()
	}
	wg.Wait()
}

func openHistory(t *testing.T, keep int) *History {
	t.Helper()
	h, err := OpenHistory(context.Background(), filepath.Join(t.TempDir(), "history.db"), keep)
	if err != nil {
		t.Fatalf("OpenHistory: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestHistory_UsesWAL(t *testing.T) {
	h := openHistory(t, 10)
	var mode string
	if err := h.db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode: got %q, want wal", mode)
	}

	var timeout int
	if err := h.db.QueryRowContext(context.Background(), "PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout: got %d, want 5000", timeout)
	}
}

func TestHistory_SaveAndList(t *testing.T) {
	h := openHistory(t, 10)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		if err := h.Save(ctx, report(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	runs, err := h.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("List: got %d rows, want 2", len(runs))
	}
	if runs[0].RunID != "r3" || runs[1].RunID != "r2" {
		t.Errorf("order: got %s, %s", runs[0].RunID, runs[1].RunID)
	}
	r := runs[0]
	if r.Rounds != 2 || r.Total != 4 || r.Cancelled {
		t.Errorf("row: %+v", r)
	}
	if len(r.Providers) != 2 || len(r.Issues) != 1 {
		t.Errorf("summary: %+v", r)
	}
	if !r.StartedAt.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("StartedAt: got %v", r.StartedAt)
	}
}

func TestHistory_Prunes(t *testing.T) {
	h := openHistory(t, 2)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		if err := h.Save(ctx, report(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	runs, err := h.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("rows: got %d, want 2", len(runs))
	}
	if _, err := h.Get(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest run should be pruned, got %v", err)
	}
}

func TestHistory_GetRoundTripsReport(t *testing.T) {
	h := openHistory(t, 10)
	ctx := context.Background()
	rep := report("r1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rep.Cancelled = true

	if err := h.Save(ctx, rep); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := h.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Cancelled || len(got.Results) != 2 {
		t.Errorf("report: %+v", got)
	}
	if got.Results[1].Status != 0 || got.Results[1].Error == "" {
		t.Errorf("error outcome: %+v", got.Results[1])
	}

	if _, err := h.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: got %v", err)
	}
}

func TestHistory_SaveIsIdempotent(t *testing.T) {
	h := openHistory(t, 10)
	ctx := context.Background()
	rep := report("r1", time.Now())

	if err := h.Save(ctx, rep); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rep.Completed = 3
	if err := h.Save(ctx, rep); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	runs, _ := h.List(ctx, 10)
	if len(runs) != 1 || runs[0].Completed != 3 {
		t.Errorf("rows: %+v", runs)
	}
}
