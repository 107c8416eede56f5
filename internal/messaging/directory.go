package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/physio-messaging/pkg/logging"
)

// DirectoryLookup maps a phone number to the tenant that owns it.
type DirectoryLookup interface {
	TenantForPhone(ctx context.Context, phone string) (string, error)
}

// PatientLookup is implemented by directories that can also identify the patient.
type PatientLookup interface {
	PatientForPhone(ctx context.Context, phone string) (tenantID, patientID string, err error)
}

// ResolveTenant returns the tenant for phone, or DefaultTenant when the
// directory is missing, fails, or knows nothing about the number.
func ResolveTenant(ctx context.Context, dir DirectoryLookup, phone string, logger *logging.Logger) string {
	if dir == nil {
		return DefaultTenant
	}
	tenantID, err := dir.TenantForPhone(ctx, phone)
	if err != nil {
		if !errors.Is(err, ErrTenantUnresolved) && logger != nil {
			logger.Warn("directory lookup failed", "phone", MaskPhone(phone), "error", err)
		}
		return DefaultTenant
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return DefaultTenant
	}
	return tenantID
}

// StaticDirectory resolves tenants from a fixed phone→tenant map.
type StaticDirectory struct {
	mapping map[string]string
}

// NewStaticDirectory normalizes the keys of mapping so lookups match
// whatever formatting the carrier uses.
func NewStaticDirectory(mapping map[string]string) *StaticDirectory {
	normalized := make(map[string]string, len(mapping))
	for phone, tenantID := range mapping {
		key := phoneKey(phone)
		if key == "" || strings.TrimSpace(tenantID) == "" {
			continue
		}
		normalized[key] = strings.TrimSpace(tenantID)
	}
	return &StaticDirectory{mapping: normalized}
}

// TenantForPhone implements DirectoryLookup.
func (d *StaticDirectory) TenantForPhone(_ context.Context, phone string) (string, error) {
	if d == nil {
		return "", ErrTenantUnresolved
	}
	if tenantID, ok := d.mapping[phoneKey(phone)]; ok {
		return tenantID, nil
	}
	return "", ErrTenantUnresolved
}

// SQLDirectory reads tenant and patient ids from the patients table.
type SQLDirectory struct {
	db *sql.DB
}

// NewSQLDirectory wraps an open database handle (lib/pq in production).
func NewSQLDirectory(db *sql.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

const patientByPhoneQuery = `SELECT tenant_id, id FROM patients WHERE phone = $1 ORDER BY created_at LIMIT 1`

// PatientForPhone implements PatientLookup.
func (d *SQLDirectory) PatientForPhone(ctx context.Context, phone string) (string, string, error) {
	if d == nil || d.db == nil {
		return "", "", errors.New("messaging: sql directory not configured")
	}
	key := phoneKey(phone)
	if key == "" {
		return "", "", ErrInvalidPhone
	}
	var tenantID, patientID string
	err := d.db.QueryRowContext(ctx, patientByPhoneQuery, key).Scan(&tenantID, &patientID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrTenantUnresolved
	}
	if err != nil {
		return "", "", fmt.Errorf("messaging: lookup patient: %w", err)
	}
	return tenantID, patientID, nil
}

// TenantForPhone implements DirectoryLookup.
func (d *SQLDirectory) TenantForPhone(ctx context.Context, phone string) (string, error) {
	tenantID, _, err := d.PatientForPhone(ctx, phone)
	return tenantID, err
}

// phoneKey prefers the canonical Brazilian form and falls back to bare digits.
func phoneKey(phone string) string {
	if canonical, ok := NormalizeBR(phone); ok {
		return canonical
	}
	return sanitizePhone(phone)
}
