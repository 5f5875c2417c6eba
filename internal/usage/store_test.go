package usage

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "usage_test.db")
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(tempDBPath(t))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenStoreCreatesFile(t *testing.T) {
	path := tempDBPath(t)
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatal("database file should exist after OpenStore")
	}
}

func TestInsertAndQueryUnsynced(t *testing.T) {
	store := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	record := UsageRecord{
		JobID:       "job-001",
		JobType:     "meal_plan",
		Owner:       "user-7",
		Source:      "redis",
		Attempt:     2,
		Status:      "success",
		CacheHit:    true,
		Provider:    "cloud_llm",
		StartedAt:   now,
		CompletedAt: now.Add(3 * time.Second),
		DurationMs:  3000,
		WorkerID:    "test-worker",
	}

	if err := store.Insert(record); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	records, err := store.QueryUnsynced(10)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	r := records[0]
	if r.ID == 0 {
		t.Error("ID should be set after insert")
	}
	if r.JobID != "job-001" || r.JobType != "meal_plan" || r.Owner != "user-7" || r.Source != "redis" {
		t.Errorf("identity fields = %+v", r)
	}
	if r.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", r.Attempt)
	}
	if !r.CacheHit {
		t.Error("CacheHit should round-trip as true")
	}
	if r.Provider != "cloud_llm" {
		t.Errorf("Provider = %q, want cloud_llm", r.Provider)
	}
	if r.DurationMs != 3000 {
		t.Errorf("DurationMs = %d, want 3000", r.DurationMs)
	}
	if !r.StartedAt.Equal(now) {
		t.Errorf("StartedAt = %v, want %v", r.StartedAt, now)
	}
	if r.WorkerID != "test-worker" {
		t.Errorf("WorkerID = %q, want test-worker", r.WorkerID)
	}
	if r.Synced {
		t.Error("new records should not be synced")
	}
}

func TestInsertSameAttemptIgnored(t *testing.T) {
	store := openTestStore(t)

	now := time.Now().UTC()
	record := UsageRecord{
		JobID:       "dup-job",
		JobType:     "meal_plan",
		Status:      "retry",
		StartedAt:   now,
		CompletedAt: now,
		DurationMs:  100,
	}

	if err := store.Insert(record); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := store.Insert(record); err != nil {
		t.Fatalf("duplicate Insert should not error: %v", err)
	}

	// A later attempt of the same job is a new row.
	record.Attempt = 2
	record.Status = "success"
	if err := store.Insert(record); err != nil {
		t.Fatalf("second attempt Insert: %v", err)
	}

	records, err := store.QueryUnsynced(10)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Attempt != 1 || records[1].Attempt != 2 {
		t.Errorf("attempts = %d, %d, want 1, 2", records[0].Attempt, records[1].Attempt)
	}
}

func TestMarkSynced(t *testing.T) {
	store := openTestStore(t)

	now := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		if err := store.Insert(UsageRecord{
			JobID:       id,
			JobType:     "image_analysis",
			Status:      "success",
			StartedAt:   now,
			CompletedAt: now.Add(time.Duration(i) * time.Second),
			DurationMs:  int64(i * 1000),
		}); err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}

	records, err := store.QueryUnsynced(10)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 unsynced, got %d", len(records))
	}

	if err := store.MarkSynced([]int64{records[0].ID, records[1].ID}); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	remaining, err := store.QueryUnsynced(10)
	if err != nil {
		t.Fatalf("QueryUnsynced after mark: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining unsynced, got %d", len(remaining))
	}
	if remaining[0].JobID != "c" {
		t.Errorf("remaining JobID = %q, want %q", remaining[0].JobID, "c")
	}
}

func TestMarkSyncedEmpty(t *testing.T) {
	store := openTestStore(t)

	if err := store.MarkSynced(nil); err != nil {
		t.Fatalf("MarkSynced(nil): %v", err)
	}
	if err := store.MarkSynced([]int64{}); err != nil {
		t.Fatalf("MarkSynced([]): %v", err)
	}
}

func TestQueryUnsyncedLimit(t *testing.T) {
	store := openTestStore(t)

	now := time.Now().UTC()
	for i := range 5 {
		if err := store.Insert(UsageRecord{
			JobID:       fmt.Sprintf("job-%d", i),
			JobType:     "meal_plan",
			Status:      "success",
			StartedAt:   now,
			CompletedAt: now,
			DurationMs:  100,
		}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	records, err := store.QueryUnsynced(2)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records with limit=2, got %d", len(records))
	}

	recent, err := store.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].JobID != "job-4" {
		t.Errorf("Recent(1) = %+v, want job-4", recent)
	}
}

func TestInsertWithError(t *testing.T) {
	store := openTestStore(t)

	now := time.Now().UTC()
	if err := store.Insert(UsageRecord{
		JobID:        "fail-job",
		JobType:      "exam_analysis",
		Status:       "failure",
		ErrorKind:    "invalid_input",
		ErrorMessage: "imageUrl is required",
		StartedAt:    now,
		CompletedAt:  now,
		DurationMs:   50,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	records, err := store.QueryUnsynced(10)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if records[0].ErrorKind != "invalid_input" {
		t.Errorf("ErrorKind = %q, want invalid_input", records[0].ErrorKind)
	}
	if records[0].ErrorMessage != "imageUrl is required" {
		t.Errorf("ErrorMessage = %q", records[0].ErrorMessage)
	}
}

func TestSummarize(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []UsageRecord{
		{JobID: "old", JobType: "meal_plan", Status: "success", StartedAt: base.Add(-time.Hour), DurationMs: 999},
		{JobID: "m1", JobType: "meal_plan", Status: "success", StartedAt: base, DurationMs: 100},
		{JobID: "m2", JobType: "meal_plan", Status: "success", CacheHit: true, StartedAt: base.Add(time.Minute), DurationMs: 300},
		{JobID: "m3", JobType: "meal_plan", Status: "failure", StartedAt: base.Add(2 * time.Minute), DurationMs: 200},
		{JobID: "i1", JobType: "image_analysis", Status: "retry", StartedAt: base.Add(time.Second), DurationMs: 50},
	}
	for _, r := range records {
		r.CompletedAt = r.StartedAt
		if err := store.Insert(r); err != nil {
			t.Fatalf("Insert %s: %v", r.JobID, err)
		}
	}

	summary, err := store.Summarize(base)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("expected 2 job types, got %+v", summary)
	}

	img, meal := summary[0], summary[1]
	if img.JobType != "image_analysis" || img.Total != 1 || img.Failed != 1 {
		t.Errorf("image summary = %+v", img)
	}
	if meal.JobType != "meal_plan" {
		t.Fatalf("second summary type = %q", meal.JobType)
	}
	if meal.Total != 3 || meal.Succeeded != 2 || meal.Failed != 1 || meal.CacheHits != 1 {
		t.Errorf("meal summary = %+v", meal)
	}
	if meal.AvgDurationMs != 200 {
		t.Errorf("AvgDurationMs = %v, want 200", meal.AvgDurationMs)
	}
}
