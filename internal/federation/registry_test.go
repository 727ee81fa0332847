package federation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestRegistryRegister(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO federation_partners").
		WithArgs(sqlmock.AnyArg(), "Statistics Norway", "https://api.ssb.example", "data@ssb.example", PartnerActive, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := NewRegistryWithDB(db)
	p, err := r.Register(context.Background(), "Statistics Norway", "https://api.ssb.example", "data@ssb.example")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if p.ID == "" || p.Status != PartnerActive {
		t.Fatalf("unexpected partner: %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryGetAndList(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	cols := []string{"id", "name", "base_url", "contact", "status", "created_at"}

	mock.ExpectQuery("SELECT id, name, base_url, contact, status, created_at FROM federation_partners WHERE").
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("p-1", "INSEE", "https://api.insee.example", nil, PartnerActive, now))
	mock.ExpectQuery("SELECT id, name, base_url, contact, status, created_at FROM federation_partners ORDER BY name").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("p-1", "INSEE", "https://api.insee.example", "", PartnerActive, now).
			AddRow("p-2", "Istat", "https://api.istat.example", "stat@istat.example", PartnerSuspended, now))

	r := NewRegistryWithDB(db)
	got, err := r.Get(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "INSEE" || got.Contact != "" {
		t.Fatalf("unexpected partner: %+v", got)
	}

	list, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[1].Status != PartnerSuspended {
		t.Fatalf("unexpected list: %+v", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryNotFound(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, name, base_url, contact, status, created_at FROM federation_partners WHERE").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("UPDATE federation_partners SET status").
		WithArgs(PartnerSuspended, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	r := NewRegistryWithDB(db)
	if _, err := r.Get(context.Background(), "ghost"); !errors.Is(err, ErrPartnerNotFound) {
		t.Fatalf("expected ErrPartnerNotFound, got %v", err)
	}
	if err := r.SetStatus(context.Background(), "ghost", PartnerSuspended); !errors.Is(err, ErrPartnerNotFound) {
		t.Fatalf("expected ErrPartnerNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
