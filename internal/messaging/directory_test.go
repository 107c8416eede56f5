package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

type failingDirectory struct{ err error }

func (f failingDirectory) TenantForPhone(context.Context, string) (string, error) {
	return "", f.err
}

func TestStaticDirectoryNormalizesKeys(t *testing.T) {
	dir := NewStaticDirectory(map[string]string{
		"(11) 99988-7766": "t1",
		"":                "ignored",
		"21987654321":     " ",
	})
	tenantID, err := dir.TenantForPhone(context.Background(), "5511999887766")
	if err != nil || tenantID != "t1" {
		t.Fatalf("expected t1, got %q err=%v", tenantID, err)
	}
	if _, err := dir.TenantForPhone(context.Background(), "21987654321"); !errors.Is(err, ErrTenantUnresolved) {
		t.Fatalf("expected ErrTenantUnresolved, got %v", err)
	}
}

func TestResolveTenantDefaults(t *testing.T) {
	ctx := context.Background()
	if got := ResolveTenant(ctx, nil, "5511999887766", nil); got != DefaultTenant {
		t.Fatalf("nil directory: got %q", got)
	}
	if got := ResolveTenant(ctx, failingDirectory{err: errors.New("boom")}, "5511999887766", nil); got != DefaultTenant {
		t.Fatalf("failing directory: got %q", got)
	}
	dir := NewStaticDirectory(map[string]string{"5511999887766": "t1"})
	if got := ResolveTenant(ctx, dir, "11999887766", nil); got != "t1" {
		t.Fatalf("expected t1, got %q", got)
	}
	if got := ResolveTenant(ctx, dir, "5521000000000", nil); got != DefaultTenant {
		t.Fatalf("unknown phone: got %q", got)
	}
}

func TestSQLDirectoryPatientForPhone(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT tenant_id, id FROM patients").
		WithArgs("5511999887766").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id"}).AddRow("t1", "p-42"))

	dir := NewSQLDirectory(db)
	tenantID, patientID, err := dir.PatientForPhone(context.Background(), "(11) 99988-7766")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if tenantID != "t1" || patientID != "p-42" {
		t.Fatalf("unexpected result %q/%q", tenantID, patientID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLDirectoryNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT tenant_id, id FROM patients").
		WithArgs("5511999887766").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "id"}))

	dir := NewSQLDirectory(db)
	if _, err := dir.TenantForPhone(context.Background(), "5511999887766"); !errors.Is(err, ErrTenantUnresolved) {
		t.Fatalf("expected ErrTenantUnresolved, got %v", err)
	}
	if got := ResolveTenant(context.Background(), dir, "5511999887766", nil); got != DefaultTenant {
		t.Fatalf("expected default tenant, got %q", got)
	}
}

func TestGatewayErrorKeepsMessage(t *testing.T) {
	err := error(&GatewayError{Err: errors.New("carrier said no")})
	if err.Error() != "carrier said no" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !IsGatewayError(err) {
		t.Fatalf("expected gateway error")
	}
	if IsGatewayError(ErrInvalidPhone) {
		t.Fatalf("sentinel should not be a gateway error")
	}
}
