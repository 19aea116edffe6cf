package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/webcheckup/webcheckup/internal/domain/checkup"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedCheckup(t *testing.T, repo *CheckupRepository) *checkup.Checkup {
	t.Helper()
	cu, err := checkup.NewCheckup("https://example.com", "owner-1")
	if err != nil {
		t.Fatalf("new checkup: %v", err)
	}
	if err := repo.SaveCheckup(context.Background(), cu); err != nil {
		t.Fatalf("save checkup: %v", err)
	}
	return cu
}

func seedRunningCheck(t *testing.T, repo *CheckupRepository, cu *checkup.Checkup, checkType checkup.CheckType) *checkup.Check {
	t.Helper()
	chk, err := checkup.NewCheck(cu.ID(), checkType)
	if err != nil {
		t.Fatalf("new check: %v", err)
	}
	if err := repo.SaveCheck(context.Background(), chk); err != nil {
		t.Fatalf("save check: %v", err)
	}
	if err := repo.MarkCheckRunning(context.Background(), chk.ID()); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	return chk
}

func TestCheckupRoundTrip(t *testing.T) {
	repo := NewCheckupRepository(testDB(t))
	cu := seedCheckup(t, repo)

	loaded, err := repo.CheckupByID(context.Background(), cu.ID())
	if err != nil {
		t.Fatalf("load checkup: %v", err)
	}
	if loaded.ID() != cu.ID() || loaded.URL() != cu.URL() || loaded.OwnerID() != cu.OwnerID() {
		t.Errorf("loaded = %s/%s/%s", loaded.ID(), loaded.URL(), loaded.OwnerID())
	}
	if len(loaded.Checks()) != 0 {
		t.Errorf("expected no checks, got %d", len(loaded.Checks()))
	}
}

func TestCheckupByIDNotFound(t *testing.T) {
	repo := NewCheckupRepository(testDB(t))
	if _, err := repo.CheckupByID(context.Background(), "missing"); !errors.Is(err, sharedErrors.ErrCheckupNotFound) {
		t.Errorf("got %v, want ErrCheckupNotFound", err)
	}
}

func TestCheckupsByOwner(t *testing.T) {
	repo := NewCheckupRepository(testDB(t))
	seedCheckup(t, repo)
	seedCheckup(t, repo)

	other, _ := checkup.NewCheckup("https://other.example", "owner-2")
	if err := repo.SaveCheckup(context.Background(), other); err != nil {
		t.Fatalf("save checkup: %v", err)
	}

	mine, err := repo.CheckupsByOwner(context.Background(), "owner-1")
	if err != nil {
		t.Fatalf("list checkups: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("owner-1 checkups = %d, want 2", len(mine))
	}

	theirs, err := repo.CheckupsByOwner(context.Background(), "owner-2")
	if err != nil {
		t.Fatalf("list checkups: %v", err)
	}
	if len(theirs) != 1 {
		t.Errorf("owner-2 checkups = %d, want 1", len(theirs))
	}
}

func TestCheckLifecyclePersistence(t *testing.T) {
	repo := NewCheckupRepository(testDB(t))
	cu := seedCheckup(t, repo)
	chk := seedRunningCheck(t, repo, cu, checkup.TypePortScan)

	results := map[string]any{"open_ports": []any{22.0, 443.0}}
	if err := repo.CompleteCheckWithResults(context.Background(), chk.ID(), results, "two open ports"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	loaded, err := repo.CheckByID(context.Background(), chk.ID())
	if err != nil {
		t.Fatalf("load check: %v", err)
	}
	if loaded.Status() != checkup.StatusCompleted {
		t.Errorf("status = %q", loaded.Status())
	}
	if loaded.ResultsDescription() != "two open ports" {
		t.Errorf("description = %q", loaded.ResultsDescription())
	}
	ports, ok := loaded.Results()["open_ports"].([]any)
	if !ok || len(ports) != 2 {
		t.Errorf("results = %v", loaded.Results())
	}
}

func TestTerminalTransitionIsGuarded(t *testing.T) {
	repo := NewCheckupRepository(testDB(t))
	cu := seedCheckup(t, repo)
	chk := seedRunningCheck(t, repo, cu, checkup.TypeNetwork)

	if err := repo.CompleteCheckWithResults(context.Background(), chk.ID(), map[string]any{"ok": true}, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// A second terminal transition must not overwrite the first.
	err := repo.CompleteCheckWithFailure(context.Background(), chk.ID(), checkup.FailurePayload("late"))
	if !errors.Is(err, sharedErrors.ErrCheckFinished) {
		t.Fatalf("got %v, want ErrCheckFinished", err)
	}

	loaded, _ := repo.CheckByID(context.Background(), chk.ID())
	if loaded.Status() != checkup.StatusCompleted {
		t.Errorf("status = %q after duplicate transition", loaded.Status())
	}
	if loaded.Results()["exception"] != nil {
		t.Errorf("results were overwritten: %v", loaded.Results())
	}
}

func TestCompleteRequiresRunning(t *testing.T) {
	repo := NewCheckupRepository(testDB(t))
	cu := seedCheckup(t, repo)

	chk, _ := checkup.NewCheck(cu.ID(), checkup.TypeCookie)
	if err := repo.SaveCheck(context.Background(), chk); err != nil {
		t.Fatalf("save check: %v", err)
	}

	err := repo.CompleteCheckWithResults(context.Background(), chk.ID(), map[string]any{}, "")
	if !errors.Is(err, sharedErrors.ErrCheckNotRunning) {
		t.Errorf("got %v, want ErrCheckNotRunning", err)
	}
}

func TestMarkCheckRunningGuards(t *testing.T) {
	repo := NewCheckupRepository(testDB(t))
	cu := seedCheckup(t, repo)
	chk := seedRunningCheck(t, repo, cu, checkup.TypeLighthouse)

	if err := repo.MarkCheckRunning(context.Background(), chk.ID()); !errors.Is(err, sharedErrors.ErrCheckNotCreated) {
		t.Errorf("double start: got %v, want ErrCheckNotCreated", err)
	}
	if err := repo.MarkCheckRunning(context.Background(), "missing"); !errors.Is(err, sharedErrors.ErrCheckNotFound) {
		t.Errorf("missing check: got %v, want ErrCheckNotFound", err)
	}
}

func TestFailureStoresExceptionPayload(t *testing.T) {
	repo := NewCheckupRepository(testDB(t))
	cu := seedCheckup(t, repo)
	chk := seedRunningCheck(t, repo, cu, checkup.TypeCookie)

	if err := repo.CompleteCheckWithFailure(context.Background(), chk.ID(), checkup.FailurePayload("scanner unreachable")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	loaded, _ := repo.CheckByID(context.Background(), chk.ID())
	if loaded.Status() != checkup.StatusFailed {
		t.Errorf("status = %q", loaded.Status())
	}
	if loaded.Results()["exception"] != "scanner unreachable" {
		t.Errorf("results = %v", loaded.Results())
	}
	if loaded.ResultsDescription() != "" {
		t.Errorf("description = %q, want empty for failed check", loaded.ResultsDescription())
	}
}

func TestCheckupByIDLoadsChecksInInsertionOrder(t *testing.T) {
	repo := NewCheckupRepository(testDB(t))
	cu := seedCheckup(t, repo)
	for _, checkType := range checkup.AllCheckTypes() {
		seedRunningCheck(t, repo, cu, checkType)
	}

	loaded, err := repo.CheckupByID(context.Background(), cu.ID())
	if err != nil {
		t.Fatalf("load checkup: %v", err)
	}
	checks := loaded.Checks()
	if len(checks) != 5 {
		t.Fatalf("expected 5 checks, got %d", len(checks))
	}
	for i, checkType := range checkup.AllCheckTypes() {
		if checks[i].Type() != checkType {
			t.Errorf("checks[%d] = %q, want %q", i, checks[i].Type(), checkType)
		}
	}
}
