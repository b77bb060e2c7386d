package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hanko-field/checkout/internal/platform/postgres"
)

type keyRecord struct {
	Key             string    `gorm:"column:key;primaryKey"`
	Fingerprint     string    `gorm:"column:fingerprint"`
	Status          string    `gorm:"column:status"`
	ResponseStatus  int       `gorm:"column:response_status"`
	ResponseHeaders *string   `gorm:"column:response_headers;type:jsonb"`
	ResponseBody    []byte    `gorm:"column:response_body"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
	ExpiresAt       time.Time `gorm:"column:expires_at"`
}

func (keyRecord) TableName() string { return "idempotency_keys" }

// PostgresStore persists keys in the idempotency_keys table so replays survive restarts and
// are shared between instances.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("idempotency: database is required")
	}
	return &PostgresStore{db: db}, nil
}

// Reserve inserts a pending row, taking over an expired one in the same statement. When the
// insert affects nothing the existing row decides the outcome.
func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	row := keyRecord{
		Key:         storageKey(key),
		Fingerprint: fingerprint,
		Status:      string(StatusPending),
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	res := postgres.Conn(ctx, s.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"fingerprint":      row.Fingerprint,
			"status":           row.Status,
			"response_status":  0,
			"response_headers": nil,
			"response_body":    nil,
			"created_at":       now,
			"updated_at":       now,
			"expires_at":       row.ExpiresAt,
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "idempotency_keys.expires_at <= ?", Vars: []any{now}},
		}},
	}).Create(&row)
	if res.Error != nil {
		return Reservation{}, postgres.WrapError("idempotency.reserve", res.Error)
	}
	if res.RowsAffected == 1 {
		return Reservation{State: ReservationStateNew, Record: toRecord(key, row)}, nil
	}

	var existing keyRecord
	if err := postgres.Conn(ctx, s.db).Where("key = ?", row.Key).Take(&existing).Error; err != nil {
		return Reservation{}, postgres.WrapError("idempotency.reserve", err)
	}
	return classify(toRecord(key, existing), fingerprint)
}

func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	var headers *string
	if sanitized := sanitizeHeaders(resp.Headers); sanitized != nil {
		encoded, err := json.Marshal(sanitized)
		if err != nil {
			return fmt.Errorf("idempotency: encode headers: %w", err)
		}
		value := string(encoded)
		headers = &value
	}
	res := postgres.Conn(ctx, s.db).Model(&keyRecord{}).
		Where("key = ? AND fingerprint = ?", storageKey(key), fingerprint).
		Updates(map[string]any{
			"status":           string(StatusCompleted),
			"response_status":  resp.Status,
			"response_headers": headers,
			"response_body":    resp.Body,
			"updated_at":       now,
			"expires_at":       now.Add(ttl),
		})
	if res.Error != nil {
		return postgres.WrapError("idempotency.save", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	err := postgres.Conn(ctx, s.db).
		Where("key = ? AND fingerprint = ?", storageKey(key), fingerprint).
		Delete(&keyRecord{}).Error
	return postgres.WrapError("idempotency.release", err)
}

func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 500
	}
	res := postgres.Conn(ctx, s.db).Exec(
		`DELETE FROM idempotency_keys WHERE key IN (SELECT key FROM idempotency_keys WHERE expires_at <= ? LIMIT ?)`,
		now.UTC(), limit,
	)
	if res.Error != nil {
		return 0, postgres.WrapError("idempotency.cleanup", res.Error)
	}
	return int(res.RowsAffected), nil
}

func toRecord(key string, row keyRecord) Record {
	record := Record{
		Key:            key,
		Fingerprint:    row.Fingerprint,
		Status:         Status(row.Status),
		ResponseStatus: row.ResponseStatus,
		ResponseBody:   row.ResponseBody,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		ExpiresAt:      row.ExpiresAt,
	}
	if row.ResponseHeaders != nil {
		_ = json.Unmarshal([]byte(*row.ResponseHeaders), &record.ResponseHeaders)
	}
	return record
}
