package journal

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestCreateAndCompleteRun(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	id, err := j.CreateRun(ctx, "recipes/network", "network", "abc123")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if id == "" {
		t.Fatal("empty run id")
	}

	run, err := j.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != RunStatusRunning || run.RecipePath != "recipes/network" || run.CommitSHA != "abc123" {
		t.Errorf("run = %+v", run)
	}
	if run.CompletedAt != nil {
		t.Error("running run must not have a completion time")
	}

	if err := j.CompleteRun(ctx, id, RunStatusCompleted, ""); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	run, err = j.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != RunStatusCompleted || run.CompletedAt == nil {
		t.Errorf("completed run = %+v", run)
	}
}

func TestCompleteRunRecordsFailure(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	id, err := j.CreateRun(ctx, "recipes/compute", "compute", "def456")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := j.CompleteRun(ctx, id, RunStatusFailed, "all plan attempts failed"); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}

	run, err := j.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != RunStatusFailed || run.Error != "all plan attempts failed" {
		t.Errorf("run = %+v", run)
	}
}

func TestCompleteRunUnknownID(t *testing.T) {
	j := openTestJournal(t)
	if err := j.CompleteRun(context.Background(), "nope", RunStatusCompleted, ""); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestRecordAndListAttempts(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	id, err := j.CreateRun(ctx, "recipes/network", "network", "abc")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	records := []Attempt{
		{RunID: id, Position: 0, Label: "defaults", Success: false, LogPath: "/tmp/a.log"},
		{RunID: id, Position: 1, Label: "prod.tfvars", VarFile: "env/prod.tfvars", Success: true, LogPath: "/tmp/b.log"},
	}
	for _, a := range records {
		if err := j.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}

	attempts, err := j.Attempts(ctx, id)
	if err != nil {
		t.Fatalf("Attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(attempts))
	}
	if attempts[0].Label != "defaults" || attempts[0].Success {
		t.Errorf("attempts[0] = %+v", attempts[0])
	}
	if attempts[1].Label != "prod.tfvars" || !attempts[1].Success || attempts[1].VarFile != "env/prod.tfvars" {
		t.Errorf("attempts[1] = %+v", attempts[1])
	}
}

func TestRecordArtifact(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	id, err := j.CreateRun(ctx, "recipes/network", "network", "abc")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	artifact := Artifact{
		RunID:     id,
		Name:      "network-plan",
		URL:       "https://api.github.com/repos/octo/infra/actions/artifacts/7/zip",
		SizeBytes: 2048,
	}
	if err := j.RecordArtifact(ctx, artifact); err != nil {
		t.Fatalf("RecordArtifact: %v", err)
	}

	artifacts, err := j.Artifacts(ctx, id)
	if err != nil {
		t.Fatalf("Artifacts: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0] != artifact {
		t.Errorf("artifacts = %+v", artifacts)
	}
}

func TestRecordAttemptRejectsUnknownRun(t *testing.T) {
	j := openTestJournal(t)
	err := j.RecordAttempt(context.Background(), Attempt{RunID: "ghost", Label: "defaults"})
	if err == nil {
		t.Fatal("foreign key should reject attempts for unknown runs")
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if _, err := j.CreateRun(ctx, "recipes/a", "a", "sha1"); err != nil {
		t.Fatal(err)
	}
	if _, err := j.CreateRun(ctx, "recipes/b", "b", "sha2"); err != nil {
		t.Fatal(err)
	}

	runs, err := j.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].StartedAt.Before(runs[1].StartedAt) {
		t.Error("runs not ordered newest first")
	}
}
