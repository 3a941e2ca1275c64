package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"wisefido-kiosk/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockArrivalDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *ArrivalLogRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewArrivalLogRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockArrivalDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS kiosk_arrivals`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordArrival_Success(t *testing.T) {
	db, mock, repo := setupMockArrivalDB(t)
	defer db.Close()

	checkin := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	received := checkin.Add(2 * time.Second)
	rec := models.DisplayRecord{ID: "7", FullName: "Jane Doe", CheckedIn: true, CheckinTime: &checkin}

	mock.ExpectExec(`INSERT INTO kiosk_arrivals`).
		WithArgs(sqlmock.AnyArg(), "station-a", "7",
			sql.NullString{String: "Jane Doe", Valid: true},
			sql.NullString{},
			sql.NullTime{Time: checkin, Valid: true},
			received,
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.RecordArrival(context.Background(), "station-a", rec, received))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordArrival_Validation(t *testing.T) {
	db, _, repo := setupMockArrivalDB(t)
	defer db.Close()

	err := repo.RecordArrival(context.Background(), "", models.DisplayRecord{ID: "7"}, time.Now())
	assert.Error(t, err)

	err = repo.RecordArrival(context.Background(), "station-a", models.DisplayRecord{}, time.Now())
	assert.Error(t, err)
}

func TestRecordArrival_DBError(t *testing.T) {
	db, mock, repo := setupMockArrivalDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO kiosk_arrivals`).WillReturnError(errors.New("connection reset"))

	err := repo.RecordArrival(context.Background(), "station-a", models.DisplayRecord{ID: "7"}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert arrival")
}

func TestRecentArrivals(t *testing.T) {
	db, mock, repo := setupMockArrivalDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"record"}).
		AddRow([]byte(`{"id":"8","full_name":"John Roe","checked_in":true}`)).
		AddRow([]byte(`not json`)).
		AddRow([]byte(`{"id":"7","full_name":"Jane Doe","checked_in":true}`))

	mock.ExpectQuery(`SELECT record\s+FROM kiosk_arrivals`).
		WithArgs("station-a", 20).
		WillReturnRows(rows)

	records, err := repo.RecentArrivals(context.Background(), "station-a", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "8", records[0].ID)
	assert.Equal(t, "Jane Doe", records[1].FullName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
