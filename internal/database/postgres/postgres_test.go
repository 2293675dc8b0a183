//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/class-attendance/internal/config"
	"github.com/kozaktomas/class-attendance/internal/database"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := Open(ctx, cfg, nil)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to open pool: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func testEmbedding(seed float32) string {
	v := make([]float32, 128)
	for i := range v {
		v[i] = seed + float32(i)/1000
	}
	raw := "["
	for i, f := range v {
		if i > 0 {
			raw += ","
		}
		raw += fmt.Sprintf("%g", f)
	}
	return raw + "]"
}

func enroll(t *testing.T, repo *IdentityRepository, uid, name, group string) int64 {
	t.Helper()
	id, err := repo.Enroll(context.Background(), &database.Identity{
		ExternalUID:  uid,
		DisplayName:  name,
		GroupTag:     group,
		RawEmbedding: testEmbedding(0.1),
		Enrolled:     true,
	})
	if err != nil {
		t.Fatalf("Failed to enroll %s: %v", uid, err)
	}
	return id
}

func TestMigrations_Idempotent(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	versions, err := pool.MigrationsApplied(ctx)
	if err != nil {
		t.Fatalf("MigrationsApplied: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("expected 2 migrations, got %v", versions)
	}
}

func TestIdentityRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewIdentityRepository(pool)

	t.Run("EnrollAndGet", func(t *testing.T) {
		id := enroll(t, repo, "S1", "Student One", "CSE-3A")

		got, err := repo.GetByExternalUID(ctx, "S1")
		if err != nil {
			t.Fatalf("GetByExternalUID: %v", err)
		}
		if got == nil {
			t.Fatal("expected identity, got nil")
		}
		if got.ID != id || got.DisplayName != "Student One" || !got.Enrolled {
			t.Errorf("unexpected identity: %+v", got)
		}
		if got.EnrolledAt.IsZero() {
			t.Error("expected enrolled_at to be set")
		}
	})

	t.Run("ReEnrollReplaces", func(t *testing.T) {
		first, _ := repo.GetByExternalUID(ctx, "S1")
		id, err := repo.Enroll(ctx, &database.Identity{
			ExternalUID:  "S1",
			DisplayName:  "Student One Renamed",
			GroupTag:     "CSE-3B",
			RawEmbedding: testEmbedding(0.9),
			Enrolled:     true,
		})
		if err != nil {
			t.Fatalf("Enroll: %v", err)
		}
		if id != first.ID {
			t.Errorf("expected same id %d after re-enroll, got %d", first.ID, id)
		}

		got, _ := repo.GetByExternalUID(ctx, "S1")
		if got.GroupTag != "CSE-3B" || got.RawEmbedding != testEmbedding(0.9) {
			t.Errorf("expected full replace, got %+v", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		got, err := repo.GetByExternalUID(ctx, "NOPE")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil, got %+v", got)
		}
	})

	t.Run("ListEnrolledFiltersAndOrders", func(t *testing.T) {
		enroll(t, repo, "S2", "Two", "CSE-3A")
		enroll(t, repo, "S3", "Three", "CSE-3A")
		if _, err := repo.Enroll(ctx, &database.Identity{
			ExternalUID: "S4", DisplayName: "Pending", GroupTag: "CSE-3A",
		}); err != nil {
			t.Fatalf("Enroll pending: %v", err)
		}

		list, err := repo.ListEnrolled(ctx, "CSE-3A")
		if err != nil {
			t.Fatalf("ListEnrolled: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 enrolled in CSE-3A, got %d", len(list))
		}
		if list[0].ExternalUID != "S2" || list[1].ExternalUID != "S3" {
			t.Errorf("unexpected order: %s, %s", list[0].ExternalUID, list[1].ExternalUID)
		}

		all, err := repo.ListEnrolled(ctx, "")
		if err != nil {
			t.Fatalf("ListEnrolled all: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 enrolled overall, got %d", len(all))
		}
	})

	t.Run("GetByExternalUIDs", func(t *testing.T) {
		list, err := repo.GetByExternalUIDs(ctx, []string{"S2", "S3", "MISSING"})
		if err != nil {
			t.Fatalf("GetByExternalUIDs: %v", err)
		}
		if len(list) != 2 {
			t.Errorf("expected 2, got %d", len(list))
		}
	})

	t.Run("ListGroupTags", func(t *testing.T) {
		tags, err := repo.ListGroupTags(ctx)
		if err != nil {
			t.Fatalf("ListGroupTags: %v", err)
		}
		if len(tags) != 2 || tags[0] != "CSE-3A" || tags[1] != "CSE-3B" {
			t.Errorf("unexpected tags: %v", tags)
		}
	})
}

func TestAttendanceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	identities := NewIdentityRepository(pool)
	repo := NewAttendanceRepository(pool)

	id := enroll(t, identities, "S1", "Student One", "CSE-3A")
	key := database.AttendanceKey{IdentityID: id, Date: "2026-03-02", Subject: "Maths", Slot: "09:00"}

	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		first := time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC)
		second := first.Add(7 * time.Minute)

		if err := repo.UpsertPresent(ctx, key, first); err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		if err := repo.UpsertPresent(ctx, key, second); err != nil {
			t.Fatalf("second upsert: %v", err)
		}

		rows, err := repo.List(ctx, database.AttendanceFilter{Date: key.Date})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("expected exactly 1 row, got %d", len(rows))
		}
		if !rows[0].CapturedAt.Equal(second) {
			t.Errorf("expected captured_at %v, got %v", second, rows[0].CapturedAt)
		}
		if rows[0].Status != "PRESENT" || rows[0].ExternalUID != "S1" || rows[0].Date != "2026-03-02" {
			t.Errorf("unexpected row: %+v", rows[0])
		}
	})

	t.Run("ConcurrentUpsertsKeepOneRow", func(t *testing.T) {
		k := key
		k.Slot = "10:00"

		var wg sync.WaitGroup
		for range 8 {
			wg.Go(func() {
				if err := repo.UpsertPresent(ctx, k, time.Now()); err != nil {
					t.Errorf("concurrent upsert: %v", err)
				}
			})
		}
		wg.Wait()

		rows, err := repo.List(ctx, database.AttendanceFilter{Date: k.Date, Slot: k.Slot})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(rows) != 1 {
			t.Errorf("expected 1 row, got %d", len(rows))
		}
	})

	t.Run("DeleteRemovesRow", func(t *testing.T) {
		deleted, err := repo.Delete(ctx, key)
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if !deleted {
			t.Error("expected a row to be deleted")
		}

		rows, _ := repo.List(ctx, database.AttendanceFilter{Date: key.Date, Slot: key.Slot})
		if len(rows) != 0 {
			t.Errorf("expected no rows, got %d", len(rows))
		}
	})

	t.Run("DeleteMissingIsNoop", func(t *testing.T) {
		deleted, err := repo.Delete(ctx, key)
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if deleted {
			t.Error("expected nothing to delete")
		}
	})

	t.Run("DeleteRequiresMatchingSubject", func(t *testing.T) {
		k := key
		k.Slot = "11:00"
		if err := repo.UpsertPresent(ctx, k, time.Now()); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		other := k
		other.Subject = "Physics"
		deleted, err := repo.Delete(ctx, other)
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if deleted {
			t.Error("delete with a different subject must not remove the row")
		}
	})
}

func TestUnknownFaceRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewUnknownFaceRepository(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	emb := make([]float32, 128)
	emb[3] = 0.5

	if err := repo.LogUnknown(ctx, "CSE-3A", now, emb); err != nil {
		t.Fatalf("LogUnknown with embedding: %v", err)
	}
	if err := repo.LogUnknown(ctx, "CSE-3A", now.Add(time.Second), nil); err != nil {
		t.Fatalf("LogUnknown without embedding: %v", err)
	}
	// Same face again: the log is append-only.
	if err := repo.LogUnknown(ctx, "CSE-3A", now.Add(2*time.Second), emb); err != nil {
		t.Fatalf("LogUnknown repeat: %v", err)
	}
	if err := repo.LogUnknown(ctx, "ME-1", now, nil); err != nil {
		t.Fatalf("LogUnknown other group: %v", err)
	}

	rows, err := repo.ListSince(ctx, "CSE-3A", now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1].Embedding != nil {
		t.Errorf("expected nil embedding for row without vector")
	}
	if len(rows[0].Embedding) != 128 || rows[0].Embedding[3] != 0.5 {
		t.Errorf("expected stored vector on newest row, got %v", rows[0].Embedding)
	}

	all, err := repo.ListSince(ctx, "", now.Add(-time.Minute), 2)
	if err != nil {
		t.Fatalf("ListSince all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected limit of 2 rows, got %d", len(all))
	}
}
