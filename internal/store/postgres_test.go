package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeQuerier struct {
	row  fakeRow
	args []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	q.args = args
	return q.row
}

func sessionRow(lastLogin *time.Time) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		*dest[0].(*bool) = true
		*dest[1].(*time.Time) = time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)
		*dest[2].(*string) = "u1"
		*dest[3].(*string) = "acme"
		*dest[4].(*string) = "Alice"
		*dest[5].(*string) = "supervisor"
		*dest[6].(*[]string) = []string{"dashboard:view"}
		*dest[7].(**time.Time) = lastLogin
		return nil
	}}
}

func TestPostgresSessionStore_MapsRow(t *testing.T) {
	login := time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)
	q := &fakeQuerier{row: sessionRow(&login)}
	s := &PostgresSessionStore{db: q}

	rec, err := s.LookupSession(context.Background(), "crm-token")
	if err != nil {
		t.Fatalf("LookupSession: %v", err)
	}
	if len(q.args) != 1 || q.args[0] != "crm-token" {
		t.Errorf("query args = %v, want [crm-token]", q.args)
	}
	if rec.Token != "crm-token" || !rec.IsActive {
		t.Errorf("record = %+v", rec)
	}
	if rec.User.ID != "u1" || rec.User.TenantID != "acme" || rec.User.Name != "Alice" || rec.User.Role != "supervisor" {
		t.Errorf("user = %+v", rec.User)
	}
	if len(rec.User.Permissions) != 1 || rec.User.Permissions[0] != "dashboard:view" {
		t.Errorf("permissions = %v", rec.User.Permissions)
	}
	if !rec.User.LastLogin.Equal(login) {
		t.Errorf("LastLogin = %v, want %v", rec.User.LastLogin, login)
	}
}

func TestPostgresSessionStore_NullLastLogin(t *testing.T) {
	s := &PostgresSessionStore{db: &fakeQuerier{row: sessionRow(nil)}}
	rec, err := s.LookupSession(context.Background(), "crm-token")
	if err != nil {
		t.Fatalf("LookupSession: %v", err)
	}
	if !rec.User.LastLogin.IsZero() {
		t.Errorf("LastLogin = %v, want zero", rec.User.LastLogin)
	}
}

func TestPostgresSessionStore_NoRowIsNil(t *testing.T) {
	s := &PostgresSessionStore{db: &fakeQuerier{row: fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}}}
	rec, err := s.LookupSession(context.Background(), "gone")
	if err != nil || rec != nil {
		t.Fatalf("LookupSession = %+v, %v; want nil, nil", rec, err)
	}
}

func TestPostgresSessionStore_QueryFailureIsError(t *testing.T) {
	boom := errors.New("connection refused")
	s := &PostgresSessionStore{db: &fakeQuerier{row: fakeRow{scan: func(...any) error { return boom }}}}
	if _, err := s.LookupSession(context.Background(), "tok"); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped %v", err, boom)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close without pool: %v", err)
	}
}
