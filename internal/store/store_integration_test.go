//go:build integration

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const postgresPort = "5432/tcp"

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{postgresPort},
			Env: map[string]string{
				"POSTGRES_USER":     "hydrowave",
				"POSTGRES_PASSWORD": "hydrowave",
				"POSTGRES_DB":       "hydrowave",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(postgresPort),
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			).WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, postgresPort)
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://hydrowave:hydrowave@%s:%s/hydrowave?sslmode=disable", host, port.Port())
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = ApplyMigrations(ctx, db, testMigrationsDir)
	require.NoError(t, err)
	return db
}

func seedReport(t *testing.T, s *PostgresStore, author User, title string) Report {
	t.Helper()
	report, err := s.CreateReport(context.Background(), author.ID, ReportInput{
		Title:        title,
		ReportedAt:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		WaterSource:  "river",
		WaterFeature: "bank",
		LocationLat:  45.5,
		LocationLong: -122.6,
		LocationName: "Willamette",
		Observation:  "green scum along the shore",
		Condition:    "algae",
		Status:       "open",
	})
	require.NoError(t, err)
	return report
}

func TestPostgresStoreLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	db := startPostgres(t)
	s := NewPostgresStore(db)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "alice", "hash")
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	bob, err := s.CreateUser(ctx, "bob", "hash")
	require.NoError(t, err)

	t.Run("create re-reads author username", func(t *testing.T) {
		report := seedReport(t, s, alice, "Slick on the river")
		assert.Equal(t, "alice", report.AuthorUsername)
		assert.Equal(t, alice.ID, report.AuthorID)
		assert.NotNil(t, report.Comments)
		assert.Nil(t, report.ImageURL)
	})

	t.Run("list consolidates comments", func(t *testing.T) {
		report := seedReport(t, s, alice, "Foam at the weir")
		_, err := s.CreateComment(ctx, report.ID, bob.ID, "saw it too")
		require.NoError(t, err)
		_, err = s.CreateComment(ctx, report.ID, alice.ID, "thanks")
		require.NoError(t, err)

		got, err := s.GetReport(ctx, report.ID)
		require.NoError(t, err)
		require.Len(t, got.Comments, 2)
		assert.Equal(t, "saw it too", got.Comments[0].Text)
		assert.Equal(t, "bob", got.Comments[0].AuthorUsername)

		all, err := s.ListReports(ctx)
		require.NoError(t, err)
		seen := map[int64]int{}
		for _, r := range all {
			seen[r.ID]++
		}
		for id, n := range seen {
			assert.Equal(t, 1, n, "report %d listed more than once", id)
		}
	})

	t.Run("comment on missing report", func(t *testing.T) {
		_, err := s.CreateComment(ctx, 999999, bob.ID, "hello")
		assert.True(t, IsNotFound(err))
	})

	t.Run("update aborted by guard leaves row untouched", func(t *testing.T) {
		report := seedReport(t, s, alice, "Original")
		denied := errors.New("denied")
		_, err := s.UpdateReport(ctx, report.ID, func(Report) (ReportInput, error) {
			return ReportInput{}, denied
		})
		assert.ErrorIs(t, err, denied)

		got, err := s.GetReport(ctx, report.ID)
		require.NoError(t, err)
		assert.Equal(t, "Original", got.Title)
	})

	t.Run("update rewrites fields and bumps updated_at", func(t *testing.T) {
		report := seedReport(t, s, alice, "Before")
		image := "https://img/x.png"
		updated, err := s.UpdateReport(ctx, report.ID, func(cur Report) (ReportInput, error) {
			return ReportInput{
				Title: "After", ReportedAt: cur.ReportedAt, WaterSource: cur.WaterSource,
				LocationLat: cur.LocationLat, LocationLong: cur.LocationLong,
				Observation: cur.Observation, Condition: cur.Condition, Status: "resolved",
				ImageURL: &image,
			}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "After", updated.Title)
		assert.Equal(t, "resolved", updated.Status)
		require.NotNil(t, updated.ImageURL)
		assert.Equal(t, image, *updated.ImageURL)
		assert.False(t, updated.UpdatedAt.Before(report.UpdatedAt))
	})

	t.Run("delete returns pre-delete row", func(t *testing.T) {
		report := seedReport(t, s, bob, "Short lived")
		deleted, err := s.DeleteReport(ctx, report.ID, func(Report) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, report.ID, deleted.ID)

		_, err = s.GetReport(ctx, report.ID)
		assert.True(t, IsNotFound(err))
	})

	t.Run("full text search", func(t *testing.T) {
		seedReport(t, s, bob, "Turbid creek after storm")
		hits, total, err := s.SearchReports(ctx, "turbid", "", 10, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, total, 1)
		require.NotEmpty(t, hits)
		assert.Contains(t, hits[0].Title, "Turbid")

		for i := 0; i < 3; i++ {
			seedReport(t, s, bob, "Turbid pond")
		}
		resolved := seedReport(t, s, bob, "Turbid ditch")
		_, err = s.UpdateReport(ctx, resolved.ID, func(cur Report) (ReportInput, error) {
			return ReportInput{
				Title: cur.Title, ReportedAt: cur.ReportedAt, WaterSource: cur.WaterSource,
				LocationLat: cur.LocationLat, LocationLong: cur.LocationLong,
				Observation: cur.Observation, Condition: cur.Condition, Status: "Resolved",
			}, nil
		})
		require.NoError(t, err)

		hits, total, err = s.SearchReports(ctx, "turbid", "Resolved", 1, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, hits, 1)
		assert.Equal(t, resolved.ID, hits[0].ID)
	})

	t.Run("token revocation", func(t *testing.T) {
		revoked, err := s.IsTokenRevoked(ctx, "jti-1")
		require.NoError(t, err)
		assert.False(t, revoked)

		require.NoError(t, s.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)))
		require.NoError(t, s.RevokeToken(ctx, "jti-1", time.Now().Add(time.Hour)))
		revoked, err = s.IsTokenRevoked(ctx, "jti-1")
		require.NoError(t, err)
		assert.True(t, revoked)
	})
}

func TestMigrationsRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	db := startPostgres(t)
	ctx := context.Background()

	entries, err := os.ReadDir(testMigrationsDir)
	require.NoError(t, err)
	var downs []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".down.sql") {
			downs = append(downs, filepath.Join(testMigrationsDir, entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))
	for _, path := range downs {
		contents, err := os.ReadFile(path)
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, string(contents))
		require.NoError(t, err, path)
	}

	_, err = db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	require.NoError(t, err)
	applied, err := ApplyMigrations(ctx, db, testMigrationsDir)
	require.NoError(t, err)
	assert.Len(t, applied, len(downs))
}
