package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jgoulah/airquality/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCycles(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cycles := []models.Cycle{
		{ID: "a", StartedAt: base, FinishedAt: base.Add(time.Minute), Status: "succeeded", DownloadURL: "https://x/1", Records: 24},
		{ID: "b", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour + time.Second), Status: "failed", ErrorKind: "resolution", Error: "no href"},
		{ID: "c", StartedAt: base.Add(2 * time.Hour), FinishedAt: base.Add(2*time.Hour + 500*time.Millisecond), Status: "succeeded", Records: 25},
	}
	for _, c := range cycles {
		if err := db.RecordCycle(ctx, c); err != nil {
			t.Fatalf("RecordCycle(%s) = %v", c.ID, err)
		}
	}

	got, err := db.ListCycles(ctx, 2)
	if err != nil {
		t.Fatalf("ListCycles() = %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("ListCycles() = %+v, want c then b", got)
	}
	if !got[0].FinishedAt.Equal(cycles[2].FinishedAt) || got[1].Error != "no href" || got[1].ErrorKind != "resolution" {
		t.Errorf("ListCycles() lost fields: %+v", got)
	}

	all, err := db.ListCycles(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListCycles(0) = %d, %v; want all 3", len(all), err)
	}

	n, err := db.PruneCycles(ctx, base.Add(90*time.Minute))
	if err != nil || n != 2 {
		t.Fatalf("PruneCycles() = %d, %v; want 2", n, err)
	}
	all, _ = db.ListCycles(ctx, 0)
	if len(all) != 1 || all[0].ID != "c" {
		t.Errorf("after prune ListCycles() = %+v", all)
	}
}

func TestLatestSnapshot(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, _, ok, err := db.LatestSnapshot(ctx); err != nil || ok {
		t.Fatalf("LatestSnapshot() on empty db = %v, %v", ok, err)
	}

	fields := []models.Field{models.Ozone, models.PM25}
	first := models.NewSnapshot("2024-01-01T00:00", fields, map[models.Field]string{models.Ozone: "1"})
	second := models.NewSnapshot("2024-01-01T01:00", fields, map[models.Field]string{models.Ozone: "2", models.PM25: "7"})
	for _, snap := range []models.Snapshot{first, second} {
		if err := db.Publish(ctx, snap); err != nil {
			t.Fatalf("Publish() = %v", err)
		}
	}

	got, updated, ok, err := db.LatestSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("LatestSnapshot() = %v, %v", ok, err)
	}
	if got.Date() != "2024-01-01T01:00" || got.Get(models.Ozone) != "2" || got.Get(models.PM25) != "7" {
		t.Errorf("LatestSnapshot() = %v", got.Map())
	}
	if updated.IsZero() {
		t.Error("updated_at not set")
	}
}

func TestBusyTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	writer, err := New(path)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	defer writer.Close()
	reader, err := New(path)
	if err != nil {
		t.Fatalf("New() second handle = %v", err)
	}
	defer reader.Close()

	var timeout int
	if err := reader.conn.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout); err != nil {
		t.Fatalf("reading busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", timeout)
	}

	ctx := context.Background()
	now := time.Now().UTC()
	if err := writer.RecordCycle(ctx, models.Cycle{ID: "w", StartedAt: now, FinishedAt: now, Status: "succeeded"}); err != nil {
		t.Fatalf("RecordCycle() = %v", err)
	}
	got, err := reader.ListCycles(ctx, 0)
	if err != nil {
		t.Fatalf("ListCycles() = %v", err)
	}
	if len(got) != 1 || got[0].ID != "w" {
		t.Errorf("ListCycles() from second handle = %+v", got)
	}
}

func TestDSN(t *testing.T) {
	if got := dsn("data.db"); got != "data.db?_pragma=busy_timeout(5000)" {
		t.Errorf("dsn() = %q", got)
	}
	if got := dsn("file:data.db?mode=rwc"); got != "file:data.db?mode=rwc&_pragma=busy_timeout(5000)" {
		t.Errorf("dsn() = %q", got)
	}
}
