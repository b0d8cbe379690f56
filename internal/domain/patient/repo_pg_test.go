package patient_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/casewatch/casewatch/internal/domain/patient"
	"github.com/casewatch/casewatch/internal/platform/db"
	"github.com/casewatch/casewatch/internal/platform/db/dbtest"
)

func TestMain(m *testing.M) { dbtest.Main(m) }

var pgNow = time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

func ids(ps []*patient.Patient) []uuid.UUID {
	out := make([]uuid.UUID, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func sameIDs(t *testing.T, what string, got []*patient.Patient, want ...uuid.UUID) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("%s = %v, want %v", what, g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("%s = %v, want %v", what, g, want)
		}
	}
}

// ordered sorts ids the way the candidate queries page through them.
func ordered(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}

func TestRepoPG_ListCloseCandidates(t *testing.T) {
	pool := dbtest.Require(t)
	repo := patient.NewRepo(pool)
	ctx := context.Background()
	j := dbtest.InsertJurisdiction(t, pool, nil, "USA")
	reported := pgNow.Add(-time.Hour)

	first := dbtest.InsertPatient(t, pool, j, map[string]any{"latest_assessment_at": reported})
	second := dbtest.InsertPatient(t, pool, j, map[string]any{
		"latest_assessment_at": reported, "last_date_of_exposure": pgNow.AddDate(0, 0, -20),
	})
	dbtest.InsertPatient(t, pool, j, map[string]any{"latest_assessment_at": reported, "isolation": true})
	dbtest.InsertPatient(t, pool, j, map[string]any{"latest_assessment_at": reported, "continuous_exposure": true})
	dbtest.InsertPatient(t, pool, j, map[string]any{"latest_assessment_at": reported, "symptom_onset": pgNow.AddDate(0, 0, -2)})
	dbtest.InsertPatient(t, pool, j, map[string]any{})
	dbtest.InsertPatient(t, pool, j, map[string]any{"latest_assessment_at": reported, "monitoring": false})
	dbtest.InsertPatient(t, pool, j, map[string]any{"latest_assessment_at": reported, "monitoring": false, "purged": true})

	a, b := ordered(first, second)
	got, err := repo.ListCloseCandidates(ctx, uuid.Nil, 10)
	if err != nil {
		t.Fatalf("ListCloseCandidates: %v", err)
	}
	sameIDs(t, "candidates", got, a, b)

	page, err := repo.ListCloseCandidates(ctx, uuid.Nil, 1)
	if err != nil {
		t.Fatal(err)
	}
	sameIDs(t, "first page", page, a)
	page, err = repo.ListCloseCandidates(ctx, a, 1)
	if err != nil {
		t.Fatal(err)
	}
	sameIDs(t, "second page", page, b)
	page, err = repo.ListCloseCandidates(ctx, b, 1)
	if err != nil {
		t.Fatal(err)
	}
	sameIDs(t, "last page", page)
}

func TestRepoPG_ListPurgeCandidates(t *testing.T) {
	pool := dbtest.Require(t)
	repo := patient.NewRepo(pool)
	ctx := context.Background()
	state := dbtest.InsertJurisdiction(t, pool, nil, "State")
	county := dbtest.InsertJurisdiction(t, pool, &state, "County")
	cutoff := pgNow.AddDate(0, 0, -14)

	closedLongAgo := dbtest.InsertPatient(t, pool, state, map[string]any{
		"monitoring": false, "closed_at": cutoff.Add(-time.Hour), "updated_at": pgNow,
	})
	// Never stamped with a closure time: falls back to the last update.
	untouched := dbtest.InsertPatient(t, pool, county, map[string]any{
		"monitoring": false, "updated_at": cutoff.AddDate(0, 0, -1),
	})
	dbtest.InsertPatient(t, pool, state, map[string]any{
		"monitoring": false, "closed_at": cutoff.Add(time.Hour), "updated_at": cutoff.AddDate(0, 0, -5),
	})
	dbtest.InsertPatient(t, pool, state, map[string]any{"updated_at": cutoff.AddDate(0, 0, -30)})
	dbtest.InsertPatient(t, pool, state, map[string]any{
		"monitoring": false, "purged": true, "closed_at": cutoff.AddDate(0, 0, -30),
	})

	a, b := ordered(closedLongAgo, untouched)
	got, err := repo.ListPurgeCandidates(ctx, cutoff, uuid.Nil, 10)
	if err != nil {
		t.Fatalf("ListPurgeCandidates: %v", err)
	}
	sameIDs(t, "candidates", got, a, b)

	page, err := repo.ListPurgeCandidates(ctx, cutoff, a, 10)
	if err != nil {
		t.Fatal(err)
	}
	sameIDs(t, "after first", page, b)

	counts, err := repo.CountPurgeCandidates(ctx, cutoff)
	if err != nil {
		t.Fatalf("CountPurgeCandidates: %v", err)
	}
	if len(counts) != 2 || counts[state] != 1 || counts[county] != 1 {
		t.Errorf("counts = %v, want one each for state and county", counts)
	}
}

func TestRepoPG_ListReminderCandidates(t *testing.T) {
	pool := dbtest.Require(t)
	repo := patient.NewRepo(pool)
	j := dbtest.InsertJurisdiction(t, pool, nil, "USA")

	head := dbtest.InsertPatient(t, pool, j, map[string]any{"preferred_contact_method": patient.ContactEmail})
	dbtest.InsertPatient(t, pool, j, map[string]any{
		"preferred_contact_method": patient.ContactEmail, "responder_id": head,
	})
	dbtest.InsertPatient(t, pool, j, map[string]any{"preferred_contact_method": patient.ContactOptOut})
	dbtest.InsertPatient(t, pool, j, map[string]any{})
	dbtest.InsertPatient(t, pool, j, map[string]any{"preferred_contact_method": patient.ContactEmail, "monitoring": false})

	got, err := repo.ListReminderCandidates(context.Background(), uuid.Nil, 10)
	if err != nil {
		t.Fatalf("ListReminderCandidates: %v", err)
	}
	sameIDs(t, "candidates", got, head)
}

func TestRepoPG_GetForUpdateHoldsRowLock(t *testing.T) {
	pool := dbtest.Require(t)
	repo := patient.NewRepo(pool)
	tx := db.NewTransactor(pool)
	j := dbtest.InsertJurisdiction(t, pool, nil, "USA")
	id := dbtest.InsertPatient(t, pool, j, map[string]any{})

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		if _, err := repo.GetForUpdate(ctx, id); err != nil {
			return err
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		err := tx.WithinTx(waitCtx, func(ctx context.Context) error {
			_, err := repo.GetForUpdate(ctx, id)
			return err
		})
		if err == nil {
			t.Error("second transaction locked a row that was already held")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("first transaction: %v", err)
	}

	err = tx.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := repo.GetForUpdate(ctx, id)
		return err
	})
	if err != nil {
		t.Errorf("lock after release: %v", err)
	}

	_, err = repo.GetForUpdate(context.Background(), uuid.New())
	if !errors.Is(err, patient.ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}
