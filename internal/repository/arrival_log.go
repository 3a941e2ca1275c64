// Package repository 显示站到达记录（审计用途，不存储凭证）
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-kiosk/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const arrivalSchema = `
CREATE TABLE IF NOT EXISTS kiosk_arrivals (
	arrival_id   UUID PRIMARY KEY,
	station_id   VARCHAR(100) NOT NULL,
	subject_id   VARCHAR(100) NOT NULL,
	full_name    TEXT,
	unit         TEXT,
	checkin_time TIMESTAMPTZ,
	received_at  TIMESTAMPTZ NOT NULL,
	record       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_kiosk_arrivals_station_received
	ON kiosk_arrivals (station_id, received_at DESC);
`

// ArrivalLogRepository 到达记录仓库
type ArrivalLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewArrivalLogRepository 创建到达记录仓库
func NewArrivalLogRepository(db *sql.DB, logger *zap.Logger) *ArrivalLogRepository {
	return &ArrivalLogRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 建表（幂等）
func (r *ArrivalLogRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, arrivalSchema); err != nil {
		return fmt.Errorf("failed to ensure kiosk_arrivals schema: %w", err)
	}
	return nil
}

// RecordArrival 追加一条到达记录
func (r *ArrivalLogRepository) RecordArrival(ctx context.Context, stationID string, rec models.DisplayRecord, receivedAt time.Time) error {
	if stationID == "" {
		return fmt.Errorf("station_id is required")
	}
	if rec.ID == "" {
		return fmt.Errorf("subject_id is required")
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	query := `
		INSERT INTO kiosk_arrivals (
			arrival_id, station_id, subject_id, full_name, unit,
			checkin_time, received_at, record
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		uuid.New().String(),
		stationID,
		rec.ID,
		nullString(rec.FullName),
		nullString(rec.Unit),
		nullTime(rec.CheckinTime),
		receivedAt,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert arrival: %w", err)
	}

	r.logger.Debug("Arrival recorded",
		zap.String("station_id", stationID),
		zap.String("subject_id", rec.ID),
	)
	return nil
}

// RecentArrivals 本站最近的到达记录（新的在前），目录不可用时用作最近列表种子
func (r *ArrivalLogRepository) RecentArrivals(ctx context.Context, stationID string, limit int) ([]models.DisplayRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT record
		FROM kiosk_arrivals
		WHERE station_id = $1
		ORDER BY received_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, stationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query arrivals: %w", err)
	}
	defer rows.Close()

	var records []models.DisplayRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan arrival: %w", err)
		}
		var rec models.DisplayRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			r.logger.Warn("Skipping corrupt arrival record", zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate arrivals: %w", err)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
