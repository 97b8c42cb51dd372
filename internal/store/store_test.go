package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"contentmill/internal/pipeline"
)

func openSQLite(t *testing.T) *SqlStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "contentmill.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("mem", func(t *testing.T) { fn(t, NewMemStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, openSQLite(t)) })
}

func TestStore_RunLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.CreateRun(ctx, RunRecord{ID: "r1", BatchID: "b1", CandidateKey: "go-generics", Seed: pipeline.Seed{"topic": "Go generics"}}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
		if err := s.RecordRunStatus(ctx, "r1", pipeline.RunRunning, ""); err != nil {
			t.Fatalf("RecordRunStatus: %v", err)
		}
		for _, ev := range []pipeline.StepRecord{
			{RunID: "r1", StepID: 1, Phase: 1, Name: "purpose", Parsed: true,
				Outputs: map[pipeline.Key]pipeline.Value{"purpose": {Data: []byte(`"teach"`), Usable: true, Writer: "purpose"}}},
			{RunID: "r1", StepID: 2, Phase: 1, Name: "keyword", Parsed: false,
				Outputs: map[pipeline.Key]pipeline.Value{"keyword": {Raw: "no idea", Reason: "no JSON", Writer: "keyword"}}},
			{RunID: "r1", StepID: 2, Phase: 1, Name: "keyword", Parsed: true,
				Outputs: map[pipeline.Key]pipeline.Value{"keyword": {Data: []byte(`"generics"`), Usable: true, Writer: "keyword"}}},
		} {
			if err := s.RecordStep(ctx, ev); err != nil {
				t.Fatalf("RecordStep: %v", err)
			}
		}

		events, err := s.StepEvents(ctx, "r1")
		if err != nil || len(events) != 3 {
			t.Fatalf("StepEvents = %d, %v", len(events), err)
		}
		if events[1].Parsed || events[1].Outputs["keyword"].Raw != "no idea" {
			t.Errorf("event 2 = %+v", events[1])
		}

		run, err := s.LoadRun(ctx, "r1")
		if err != nil {
			t.Fatalf("LoadRun: %v", err)
		}
		if run.Status != pipeline.RunRunning {
			t.Errorf("status = %s", run.Status)
		}
		topic, _ := pipeline.Lookup[string](run.State, "topic")
		kw, _ := pipeline.Lookup[string](run.State, "keyword")
		if topic != "Go generics" || kw != "generics" {
			t.Errorf("restored topic=%q keyword=%q", topic, kw)
		}

		if err := s.RecordRunStatus(ctx, "r1", pipeline.RunFailed, "boom"); err != nil {
			t.Fatal(err)
		}
		rec, err := s.GetRun(ctx, "r1")
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if rec.Status != pipeline.RunFailed || rec.Err != "boom" || rec.BatchID != "b1" || rec.CandidateKey != "go-generics" {
			t.Errorf("run record = %+v", rec)
		}

		if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRun(nope) err = %v", err)
		}
		if _, err := s.LoadRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadRun(nope) err = %v", err)
		}
	})
}

func TestStore_ListRunsByBatch(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, r := range []RunRecord{{ID: "a", BatchID: "b1"}, {ID: "b", BatchID: "b2"}, {ID: "c", BatchID: "b1"}} {
			if err := s.CreateRun(ctx, r); err != nil {
				t.Fatal(err)
			}
		}
		runs, err := s.ListRuns(ctx, "b1")
		if err != nil {
			t.Fatal(err)
		}
		var ids []string
		for _, r := range runs {
			ids = append(ids, r.ID)
		}
		if diff := cmp.Diff([]string{"a", "c"}, ids); diff != "" {
			t.Errorf("runs (-want +got):\n%s", diff)
		}
		all, _ := s.ListRuns(ctx, "")
		if len(all) != 3 {
			t.Errorf("all runs = %d", len(all))
		}
	})
}

func TestStore_Batches(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.RecordBatch(ctx, BatchRecord{ID: "b1", TargetCount: 5, Status: "running"}); err != nil {
			t.Fatal(err)
		}
		if err := s.RecordBatch(ctx, BatchRecord{ID: "b1", TargetCount: 5, Status: "partial", Completed: 4, Failed: 1, FailedKeys: []string{"k3"}}); err != nil {
			t.Fatal(err)
		}
		b, err := s.GetBatch(ctx, "b1")
		if err != nil {
			t.Fatalf("GetBatch: %v", err)
		}
		want := BatchRecord{ID: "b1", TargetCount: 5, Status: "partial", Completed: 4, Failed: 1, FailedKeys: []string{"k3"}}
		b.CreatedAt, b.UpdatedAt = want.CreatedAt, want.UpdatedAt
		if diff := cmp.Diff(want, *b); diff != "" {
			t.Errorf("batch (-want +got):\n%s", diff)
		}
		list, _ := s.ListBatches(ctx)
		if len(list) != 1 {
			t.Errorf("ListBatches = %d", len(list))
		}
		if _, err := s.GetBatch(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetBatch(missing) err = %v", err)
		}
	})
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordBatch(context.Background(), BatchRecord{ID: "b", Status: "completed"}); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, err := s2.GetBatch(context.Background(), "b"); err != nil {
		t.Errorf("batch lost after reopen: %v", err)
	}
}

func TestRebind(t *testing.T) {
	pg := &SqlStore{dialect: DialectPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}
	lite := &SqlStore{dialect: DialectSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}
