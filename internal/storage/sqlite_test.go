package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestReopenKeepsData verifies records survive a close/reopen cycle.
func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if _, err := s1.SaveQuery("Q1", "local", "A1"); err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	n, err := s2.QueryCount()
	if err != nil {
		t.Fatalf("QueryCount: %v", err)
	}
	if n != 1 {
		t.Errorf("QueryCount after reopen = %d, want 1", n)
	}
}

func TestSaveQueryRoundTrip(t *testing.T) {
	s := openTestStore(t)

	id, err := s.SaveQuery("Q1", "local", "A1")
	if err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}
	if id <= 0 {
		t.Fatalf("SaveQuery returned id %d, want > 0", id)
	}

	all, err := s.AllQueries()
	if err != nil {
		t.Fatalf("AllQueries: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(AllQueries) = %d, want 1", len(all))
	}

	rec := all[0]
	if rec.ID != id {
		t.Errorf("ID = %d, want %d", rec.ID, id)
	}
	if rec.Query != "Q1" || rec.Method != "local" || rec.Response != "A1" {
		t.Errorf("record = %+v, want Q1/local/A1", rec)
	}
	if rec.Timestamp.IsZero() {
		t.Error("Timestamp is zero, want store-assigned time")
	}
	if age := time.Since(rec.Timestamp); age > 2*time.Minute || age < -2*time.Minute {
		t.Errorf("Timestamp %v not near now", rec.Timestamp)
	}
}

// TestAllQueriesOrder inserts records and verifies strictly descending ids.
func TestAllQueriesOrder(t *testing.T) {
	s := openTestStore(t)

	const n = 5
	for i := 1; i <= n; i++ {
		if _, err := s.SaveQuery(fmt.Sprintf("Q%d", i), "global", fmt.Sprintf("A%d", i)); err != nil {
			t.Fatalf("SaveQuery %d: %v", i, err)
		}
	}

	all, err := s.AllQueries()
	if err != nil {
		t.Fatalf("AllQueries: %v", err)
	}
	if len(all) != n {
		t.Fatalf("len(AllQueries) = %d, want %d", len(all), n)
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID >= all[i-1].ID {
			t.Fatalf("ids not strictly descending: %d then %d", all[i-1].ID, all[i].ID)
		}
	}
	if all[0].Query != fmt.Sprintf("Q%d", n) {
		t.Errorf("newest record is %q, want Q%d", all[0].Query, n)
	}
}

func TestQueryCountMatchesInserts(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.SaveQuery("q", "local", "a"); err != nil {
			t.Fatalf("SaveQuery: %v", err)
		}
		n, err := s.QueryCount()
		if err != nil {
			t.Fatalf("QueryCount: %v", err)
		}
		if n != i+1 {
			t.Errorf("QueryCount = %d, want %d", n, i+1)
		}
	}
}

func TestQueryByID(t *testing.T) {
	s := openTestStore(t)

	id, err := s.SaveQuery("what is X", "global", "X is ...")
	if err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}

	rec, err := s.QueryByID(id)
	if err != nil {
		t.Fatalf("QueryByID(%d): %v", id, err)
	}
	if rec.Query != "what is X" {
		t.Errorf("Query = %q, want %q", rec.Query, "what is X")
	}
}

func TestQueryByIDNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.QueryByID(9999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("QueryByID(9999) error = %v, want ErrNotFound", err)
	}
}

func TestClearHistory(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if _, err := s.SaveQuery("q", "local", "a"); err != nil {
			t.Fatalf("SaveQuery: %v", err)
		}
	}

	if err := s.ClearHistory(); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}

	n, err := s.QueryCount()
	if err != nil {
		t.Fatalf("QueryCount: %v", err)
	}
	if n != 0 {
		t.Errorf("QueryCount after clear = %d, want 0", n)
	}

	all, err := s.AllQueries()
	if err != nil {
		t.Fatalf("AllQueries: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("AllQueries after clear returned %d records, want 0", len(all))
	}

	// Clearing an already-empty store must not error.
	if err := s.ClearHistory(); err != nil {
		t.Errorf("ClearHistory on empty store: %v", err)
	}
}

// TestIDsNotReusedAfterClear verifies AUTOINCREMENT semantics: ids keep
// ascending across a ClearHistory.
func TestIDsNotReusedAfterClear(t *testing.T) {
	s := openTestStore(t)

	last, err := s.SaveQuery("q1", "local", "a1")
	if err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}
	if err := s.ClearHistory(); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}

	next, err := s.SaveQuery("q2", "local", "a2")
	if err != nil {
		t.Fatalf("SaveQuery: %v", err)
	}
	if next <= last {
		t.Errorf("id after clear = %d, want > %d", next, last)
	}
}

func TestMetadataUpsert(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetMetadata("theme", "dark"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata("theme", "light"); err != nil {
		t.Fatalf("SetMetadata (overwrite): %v", err)
	}

	v, err := s.GetMetadata("theme", "")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "light" {
		t.Errorf("GetMetadata = %q, want %q (last write wins)", v, "light")
	}
}

func TestMetadataDefault(t *testing.T) {
	s := openTestStore(t)

	v, err := s.GetMetadata("missing", "fallback")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "fallback" {
		t.Errorf("GetMetadata = %q, want caller default %q", v, "fallback")
	}
}
