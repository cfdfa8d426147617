package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pithecene-io/crucible/iox"
	"github.com/pithecene-io/crucible/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "crucible.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(iox.CloseFunc(s))
	return s
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	score := 85
	run := &types.Run{
		ID:        "run-1",
		ProjectID: "proj-1",
		Request:   types.Request{Text: "build it"},
		Stage:     types.StageEvaluating,
		Status:    types.RunActive,
		Versions: []types.ArtifactVersion{
			{
				Number:     1,
				Content:    map[string]string{"main.go": "package main"},
				ProducedBy: types.StageDeveloping,
				Score:      &score,
				Findings: []types.Finding{
					{Kind: types.FindingQuality, Severity: types.SeverityMedium, Message: "long function"},
				},
			},
		},
		Iteration:   1,
		BestVersion: 0,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.SaveCheckpoint(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Read-your-writes: the snapshot must be immediately visible.
	got, err := s.LoadCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Stage != types.StageEvaluating || len(got.Versions) != 1 {
		t.Errorf("loaded run = %+v", got)
	}
	if got.Versions[0].Score == nil || *got.Versions[0].Score != 85 {
		t.Error("version score lost in round trip")
	}
}

func TestCheckpoint_UpsertReplacesSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &types.Run{ID: "run-1", ProjectID: "proj-1", Stage: types.StageDocumenting}
	if err := s.SaveCheckpoint(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}

	run.Stage = types.StageDeveloping
	if err := s.SaveCheckpoint(ctx, run); err != nil {
		t.Fatalf("save again: %v", err)
	}

	got, err := s.LoadCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Stage != types.StageDeveloping {
		t.Errorf("stage = %s, want developing", got.Stage)
	}
}

func TestCheckpoint_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LoadCheckpoint(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCheckpoint_Delete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := &types.Run{ID: "run-1", ProjectID: "proj-1"}
	if err := s.SaveCheckpoint(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteCheckpoint(ctx, "run-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.LoadCheckpoint(ctx, "run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err after delete = %v, want ErrNotFound", err)
	}

	// Deleting a missing checkpoint is not an error.
	if err := s.DeleteCheckpoint(ctx, "run-1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestCases_AppendAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range []types.Case{
		{ID: "run-a", ProjectID: "p", Fingerprint: "app todo", FinalScore: 90, Success: true},
		{ID: "run-b", ProjectID: "p", Fingerprint: "api rest", FinalScore: 55, Success: false},
		{ID: "run-c", ProjectID: "p", Fingerprint: "app chat", FinalScore: 82, Success: true},
	} {
		c.RecordedAt = base.Add(time.Duration(i) * time.Hour)
		if err := s.AppendCase(ctx, c); err != nil {
			t.Fatalf("append %s: %v", c.ID, err)
		}
	}

	cases, err := s.RecentCases(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("len = %d, want 2", len(cases))
	}
	if cases[0].ID != "run-c" || cases[1].ID != "run-b" {
		t.Errorf("order = %s, %s; want newest first", cases[0].ID, cases[1].ID)
	}

	all, err := s.RecentCases(ctx, 0)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
}

func TestCases_Stats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 0 {
		t.Errorf("empty total = %d", st.Total)
	}

	now := time.Now().UTC()
	_ = s.AppendCase(ctx, types.Case{ID: "a", ProjectID: "p", FinalScore: 80, Success: true, RecordedAt: now})
	_ = s.AppendCase(ctx, types.Case{ID: "b", ProjectID: "p", FinalScore: 60, Success: false, RecordedAt: now})

	st, err = s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 2 || st.Succeeded != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.AverageScore != 70 {
		t.Errorf("avg = %v, want 70", st.AverageScore)
	}
}
