package storage_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neexbeast/culturalcompass/internal/discovery"
	"github.com/neexbeast/culturalcompass/internal/geo"
	"github.com/neexbeast/culturalcompass/internal/storage"
)

// ---- helpers ----

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func sampleAttraction() discovery.Attraction {
	rating := 4.6
	count := 3100
	return discovery.Attraction{
		ID:            "benaki",
		Name:          "Benaki Museum",
		Location:      geo.Coordinate{Lat: 37.9757, Lon: 23.7402},
		Category:      discovery.CategoryMuseum,
		CategoryLabel: "Museum",
		Rating:        &rating,
		RatingCount:   &count,
	}
}

func marshalAttraction(t *testing.T, a discovery.Attraction) []byte {
	t.Helper()
	b, err := json.Marshal(a)
	require.NoError(t, err)
	return b
}

func writeSQLFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// ---- FavoriteIDs ----

func TestFavoriteIDs(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT place_id FROM favorites").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"place_id"}).AddRow("a").AddRow("b"))

	repo := storage.NewRepositoryWithQuerier(mock)
	ids, err := repo.FavoriteIDs(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a": {}, "b": {}}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFavoriteIDs_Empty(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT place_id FROM favorites").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"place_id"}))

	repo := storage.NewRepositoryWithQuerier(mock)
	ids, err := repo.FavoriteIDs(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestFavoriteIDs_QueryError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT place_id FROM favorites").
		WithArgs("u1").
		WillReturnError(fmt.Errorf("connection reset"))

	repo := storage.NewRepositoryWithQuerier(mock)
	_, err := repo.FavoriteIDs(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "querying favorite ids")
}

func TestFavoriteIDs_RowsErr(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT place_id FROM favorites").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"place_id"}).AddRow("a").RowError(0, fmt.Errorf("broken row")))

	repo := storage.NewRepositoryWithQuerier(mock)
	_, err := repo.FavoriteIDs(context.Background(), "u1")
	require.Error(t, err)
}

// ---- SetFavorite ----

func TestSetFavorite_Upsert(t *testing.T) {
	mock := newMock(t)

	want := sampleAttraction()
	want.Favorite = true
	mock.ExpectExec("INSERT INTO favorites").
		WithArgs("u1", "benaki", marshalAttraction(t, want)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := storage.NewRepositoryWithQuerier(mock)
	a := sampleAttraction()
	require.NoError(t, repo.SetFavorite(context.Background(), "u1", "benaki", &a))
	assert.False(t, a.Favorite, "caller's attraction untouched")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetFavorite_Remove(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("DELETE FROM favorites").
		WithArgs("u1", "benaki").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	repo := storage.NewRepositoryWithQuerier(mock)
	require.NoError(t, repo.SetFavorite(context.Background(), "u1", "benaki", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetFavorite_DBError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("INSERT INTO favorites").
		WithArgs("u1", "benaki", pgxmock.AnyArg()).
		WillReturnError(fmt.Errorf("db error"))

	repo := storage.NewRepositoryWithQuerier(mock)
	a := sampleAttraction()
	err := repo.SetFavorite(context.Background(), "u1", "benaki", &a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upserting favorite")
}

// ---- GetFavorite ----

func TestGetFavorite_Found(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC().Truncate(time.Second)
	stored := sampleAttraction()
	stored.Favorite = true

	mock.ExpectQuery("SELECT attraction, created_at").
		WithArgs("u1", "benaki").
		WillReturnRows(pgxmock.NewRows([]string{"attraction", "created_at"}).AddRow(marshalAttraction(t, stored), now))

	repo := storage.NewRepositoryWithQuerier(mock)
	rec, err := repo.GetFavorite(context.Background(), "u1", "benaki")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, stored, rec.Attraction)
	assert.Equal(t, now, rec.CreatedAt)
}

func TestGetFavorite_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT attraction, created_at").
		WithArgs("u1", "ghost").
		WillReturnError(pgx.ErrNoRows)

	repo := storage.NewRepositoryWithQuerier(mock)
	rec, err := repo.GetFavorite(context.Background(), "u1", "ghost")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGetFavorite_BadJSON(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT attraction, created_at").
		WithArgs("u1", "benaki").
		WillReturnRows(pgxmock.NewRows([]string{"attraction", "created_at"}).AddRow([]byte("not-json"), time.Now()))

	repo := storage.NewRepositoryWithQuerier(mock)
	_, err := repo.GetFavorite(context.Background(), "u1", "benaki")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshaling")
}

// ---- ListFavorites ----

func TestListFavorites_All(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC().Truncate(time.Second)
	a := sampleAttraction()
	b := sampleAttraction()
	b.ID = "gazi"
	b.Category = discovery.CategoryArtGallery

	mock.ExpectQuery("SELECT attraction, created_at").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"attraction", "created_at"}).
			AddRow(marshalAttraction(t, a), now).
			AddRow(marshalAttraction(t, b), now.Add(-time.Hour)))

	repo := storage.NewRepositoryWithQuerier(mock)
	got, err := repo.ListFavorites(context.Background(), "u1", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "benaki", got[0].Attraction.ID)
	assert.Equal(t, "gazi", got[1].Attraction.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFavorites_ByCategoryUsesContainment(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`attraction @> \$2::jsonb`).
		WithArgs("u1", `{"category":"museum"}`).
		WillReturnRows(pgxmock.NewRows([]string{"attraction", "created_at"}).
			AddRow(marshalAttraction(t, sampleAttraction()), time.Now()))

	repo := storage.NewRepositoryWithQuerier(mock)
	got, err := repo.ListFavorites(context.Background(), "u1", "museum")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFavorites_Empty(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT attraction, created_at").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"attraction", "created_at"}))

	repo := storage.NewRepositoryWithQuerier(mock)
	got, err := repo.ListFavorites(context.Background(), "u1", "")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestListFavorites_QueryError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT attraction, created_at").
		WithArgs("u1").
		WillReturnError(fmt.Errorf("query failed"))

	repo := storage.NewRepositoryWithQuerier(mock)
	_, err := repo.ListFavorites(context.Background(), "u1", "")
	require.Error(t, err)
}

func TestListFavorites_BadJSON(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT attraction, created_at").
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"attraction", "created_at"}).AddRow([]byte("{"), time.Now()))

	repo := storage.NewRepositoryWithQuerier(mock)
	_, err := repo.ListFavorites(context.Background(), "u1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshaling")
}

// ---- NewRepository ----

func TestNewRepository_NotNil(t *testing.T) {
	repo := storage.NewRepository(nil)
	assert.NotNil(t, repo)
}

// ---- RunMigrations ----

func TestRunMigrations_MissingDir(t *testing.T) {
	err := storage.RunMigrations(context.Background(), nil, "/nonexistent/dir")
	require.Error(t, err)
}

func TestRunMigrations_EmptyDir(t *testing.T) {
	err := storage.RunMigrations(context.Background(), nil, t.TempDir())
	require.NoError(t, err)
}

func TestRunMigrations_AppliesPending(t *testing.T) {
	dir := t.TempDir()
	writeSQLFile(t, dir, "002_second.sql", "SELECT 2;")
	writeSQLFile(t, dir, "001_first.sql", "SELECT 1;")
	writeSQLFile(t, dir, "README.md", "ignored")

	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_first.sql"))

	mock.ExpectBegin()
	mock.ExpectExec("SELECT 2").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("002_second.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, storage.RunMigrations(context.Background(), mock, dir))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_RepoMigrationsParse(t *testing.T) {
	entries, err := os.ReadDir("../../migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	for _, e := range entries {
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS favorites").WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec("INSERT INTO schema_migrations").
			WithArgs(e.Name()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
	}

	require.NoError(t, storage.RunMigrations(context.Background(), mock, "../../migrations"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_ExecErrorRollsBack(t *testing.T) {
	dir := t.TempDir()
	writeSQLFile(t, dir, "001_bad.sql", "NOT SQL")

	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectBegin()
	mock.ExpectExec("NOT SQL").WillReturnError(fmt.Errorf("syntax error"))
	mock.ExpectRollback()

	err := storage.RunMigrations(context.Background(), mock, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_bad.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_BeginError(t *testing.T) {
	dir := t.TempDir()
	writeSQLFile(t, dir, "001_test.sql", "SELECT 1;")

	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectBegin().WillReturnError(fmt.Errorf("pool exhausted"))

	err := storage.RunMigrations(context.Background(), mock, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "beginning transaction")
}

func TestRunMigrations_TrackingTableError(t *testing.T) {
	dir := t.TempDir()
	writeSQLFile(t, dir, "001_test.sql", "SELECT 1;")

	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnError(fmt.Errorf("permission denied"))

	err := storage.RunMigrations(context.Background(), mock, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema_migrations")
}
