package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	apperrors "github.com/zatekoja/telemedsync/pkg/errors"
)

// Table names
const (
	tableProviders      = "telemed_providers"
	tableConsultations  = "telemed_consultations"
	tablePrescriptions  = "telemed_prescriptions"
	tableMedicalRecords = "telemed_medical_records"
	tableSyncJobs       = "sync_jobs"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key
const uniqueViolation pq.ErrorCode = "23505"

// insertError maps a duplicate (provider_id, external_id) to CONFLICT
func insertError(msg string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperrors.NewConflictError(msg + ": already exists")
	}
	return apperrors.NewInternalError(msg, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// jsonColumn encodes v for a JSONB column
func jsonColumn(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", apperrors.NewInternalError("failed to encode json column", err)
	}
	return string(raw), nil
}

// decodeJSONColumn decodes a nullable JSONB column into dst
func decodeJSONColumn(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperrors.NewInternalError("failed to decode json column", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return apperrors.IsType(err, apperrors.ErrorTypeNotFound)
}
