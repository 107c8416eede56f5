package store

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestPostgresStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	s := newPostgresStoreWithQuerier(mock)
	ctx := context.Background()

	mock.ExpectQuery("SELECT value FROM message_store").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectExec("INSERT INTO message_store").WithArgs(KeyAnalytics, pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := s.Save(ctx, KeyAnalytics, []byte(`{}`)); err != nil {
		t.Fatalf("save: %v", err)
	}

	mock.ExpectQuery("SELECT value FROM message_store").WithArgs(KeyAnalytics).WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`{}`)))
	got, err := s.Load(ctx, KeyAnalytics)
	if err != nil || string(got) != `{}` {
		t.Fatalf("load: %q %v", got, err)
	}

	mock.ExpectExec("INSERT INTO message_store").WithArgs("k", pgxmock.AnyArg()).WillReturnError(errors.New("db down"))
	if err := s.Save(ctx, "k", nil); err == nil {
		t.Fatalf("expected save error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
