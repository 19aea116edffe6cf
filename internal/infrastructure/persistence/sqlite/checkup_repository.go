package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/webcheckup/webcheckup/internal/domain/checkup"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

// CheckupRepository implements checkup.Repository on SQLite.
type CheckupRepository struct {
	db *sql.DB
}

// NewCheckupRepository creates a SQLite-backed checkup repository.
func NewCheckupRepository(db *sql.DB) *CheckupRepository {
	return &CheckupRepository{db: db}
}

func (r *CheckupRepository) SaveCheckup(ctx context.Context, cu *checkup.Checkup) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO checkups (id, url, owner_id, created_at) VALUES (?, ?, ?, ?)`,
		cu.ID(), cu.URL(), cu.OwnerID(), cu.CreatedAt().Unix())
	if err != nil {
		return fmt.Errorf("%w: save checkup: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return nil
}

func (r *CheckupRepository) CheckupByID(ctx context.Context, id string) (*checkup.Checkup, error) {
	var (
		rawURL    string
		ownerID   string
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT url, owner_id, created_at FROM checkups WHERE id = ?`, id).
		Scan(&rawURL, &ownerID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sharedErrors.ErrCheckupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load checkup: %v", sharedErrors.ErrRepositoryOperation, err)
	}

	checks, err := r.checksByCheckupID(ctx, id)
	if err != nil {
		return nil, err
	}
	return checkup.ReconstructCheckup(id, rawURL, ownerID, time.Unix(createdAt, 0).UTC(), checks), nil
}

func (r *CheckupRepository) CheckupsByOwner(ctx context.Context, ownerID string) ([]*checkup.Checkup, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, url, created_at FROM checkups WHERE owner_id = ? ORDER BY created_at DESC, id`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list checkups: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	defer rows.Close()

	var checkups []*checkup.Checkup
	for rows.Next() {
		var (
			id        string
			rawURL    string
			createdAt int64
		)
		if err := rows.Scan(&id, &rawURL, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan checkup: %v", sharedErrors.ErrRepositoryOperation, err)
		}
		checkups = append(checkups, checkup.ReconstructCheckup(id, rawURL, ownerID, time.Unix(createdAt, 0).UTC(), nil))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list checkups: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return checkups, nil
}

func (r *CheckupRepository) SaveCheck(ctx context.Context, c *checkup.Check) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO checks (id, checkup_id, check_type, status, results, results_description)
		 VALUES (?, ?, ?, ?, NULL, '')`,
		c.ID(), c.CheckupID(), string(c.Type()), string(c.Status()))
	if err != nil {
		return fmt.Errorf("%w: save check: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return nil
}

func (r *CheckupRepository) MarkCheckRunning(ctx context.Context, checkID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE checks SET status = ? WHERE id = ? AND status = ?`,
		string(checkup.StatusRunning), checkID, string(checkup.StatusCreated))
	if err != nil {
		return fmt.Errorf("%w: mark check running: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	if affected == 0 {
		var status string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM checks WHERE id = ?`, checkID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return sharedErrors.ErrCheckNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: check status: %v", sharedErrors.ErrRepositoryOperation, err)
		}
		return sharedErrors.ErrCheckNotCreated
	}
	return nil
}

func (r *CheckupRepository) CompleteCheckWithResults(ctx context.Context, checkID string, results map[string]any, description string) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("%w: encode results: %v", sharedErrors.ErrSerializationFailed, err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE checks SET status = ?, results = ?, results_description = ? WHERE id = ? AND status = ?`,
		string(checkup.StatusCompleted), string(payload), description, checkID, string(checkup.StatusRunning))
	if err != nil {
		return fmt.Errorf("%w: complete check: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return r.requireTransition(ctx, res, checkID)
}

func (r *CheckupRepository) CompleteCheckWithFailure(ctx context.Context, checkID string, failure map[string]any) error {
	payload, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("%w: encode failure: %v", sharedErrors.ErrSerializationFailed, err)
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE checks SET status = ?, results = ? WHERE id = ? AND status = ?`,
		string(checkup.StatusFailed), string(payload), checkID, string(checkup.StatusRunning))
	if err != nil {
		return fmt.Errorf("%w: fail check: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return r.requireTransition(ctx, res, checkID)
}

func (r *CheckupRepository) CheckByID(ctx context.Context, id string) (*checkup.Check, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, checkup_id, check_type, status, results, results_description
		 FROM checks WHERE id = ?`, id)
	c, err := scanCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sharedErrors.ErrCheckNotFound
	}
	return c, err
}

func (r *CheckupRepository) checksByCheckupID(ctx context.Context, checkupID string) ([]*checkup.Check, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, checkup_id, check_type, status, results, results_description
		 FROM checks WHERE checkup_id = ? ORDER BY rowid`, checkupID)
	if err != nil {
		return nil, fmt.Errorf("%w: list checks: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	defer rows.Close()

	var checks []*checkup.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list checks: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	return checks, nil
}

// requireTransition distinguishes an already-finished check from a missing
// one when a guarded UPDATE touched no rows.
func (r *CheckupRepository) requireTransition(ctx context.Context, res sql.Result, checkID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM checks WHERE id = ?`, checkID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return sharedErrors.ErrCheckNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: check status: %v", sharedErrors.ErrRepositoryOperation, err)
	}
	if checkup.Status(status).IsTerminal() {
		return sharedErrors.ErrCheckFinished
	}
	return sharedErrors.ErrCheckNotRunning
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheck(row rowScanner) (*checkup.Check, error) {
	var (
		id          string
		checkupID   string
		checkType   string
		status      string
		rawResults  sql.NullString
		description string
	)
	if err := row.Scan(&id, &checkupID, &checkType, &status, &rawResults, &description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan check: %v", sharedErrors.ErrRepositoryOperation, err)
	}

	parsedType, err := checkup.ParseCheckType(checkType)
	if err != nil {
		return nil, err
	}

	var results map[string]any
	if rawResults.Valid && rawResults.String != "" {
		if err := json.Unmarshal([]byte(rawResults.String), &results); err != nil {
			return nil, fmt.Errorf("%w: decode results: %v", sharedErrors.ErrSerializationFailed, err)
		}
	}

	return checkup.ReconstructCheck(id, checkupID, parsedType, checkup.Status(status), results, description), nil
}
