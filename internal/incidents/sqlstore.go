package incidents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

const incidentColumns = `id, suspicious_address, details, reporter, report_signature,
	ts, status, verifiers, created_at, updated_at`

// SQLStore persists incidents in PostgreSQL. AppendVerifier locks the row
// with SELECT ... FOR UPDATE for the duration of its transaction.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Create(ctx context.Context, inc *Incident) (string, error) {
	id := PrepareNew(inc, time.Now().UTC())
	const q = `
		INSERT INTO watch_incidents
		(id, suspicious_address, details, reporter, report_signature,
		 ts, status, verifiers, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`
	_, err := s.db.ExecContext(ctx, q,
		inc.ID,
		inc.SuspiciousAddress,
		inc.Details,
		inc.Reporter,
		inc.ReportSignature,
		inc.Timestamp,
		inc.Status,
		pq.Array(inc.Verifiers),
		inc.CreatedAt,
		inc.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert incident: %w", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var verifiers pq.StringArray
	if err := row.Scan(&inc.ID, &inc.SuspiciousAddress, &inc.Details, &inc.Reporter,
		&inc.ReportSignature, &inc.Timestamp, &inc.Status, &verifiers,
		&inc.CreatedAt, &inc.UpdatedAt); err != nil {
		return nil, err
	}
	inc.Verifiers = []string(verifiers)
	if inc.Verifiers == nil {
		inc.Verifiers = []string{}
	}
	return &inc, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Incident, error) {
	q := "SELECT " + incidentColumns + " FROM watch_incidents WHERE id = $1"
	inc, err := scanIncident(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select incident: %w", err)
	}
	return inc, nil
}

func (s *SQLStore) List(ctx context.Context, f ListFilter) ([]Incident, error) {
	clauses := []string{"1=1"}
	args := []interface{}{}
	idx := 1
	if f.Status != "" {
		clauses = append(clauses, "status = $"+itoa(idx))
		args = append(args, string(f.Status))
		idx++
	}
	query := "SELECT " + incidentColumns + " FROM watch_incidents WHERE " +
		strings.Join(clauses, " AND ") + " ORDER BY ts DESC, created_at DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT $" + itoa(idx)
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()
	res := []Incident{}
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		res = append(res, *inc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLStore) AppendVerifier(ctx context.Context, id, verifier string, quorum int) (AppendResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AppendResult{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := "SELECT " + incidentColumns + " FROM watch_incidents WHERE id = $1 FOR UPDATE"
	inc, err := scanIncident(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return AppendResult{}, ErrNotFound
	}
	if err != nil {
		return AppendResult{}, fmt.Errorf("lock incident: %w", err)
	}

	appended, transitioned := ApplyVerifier(inc, verifier, quorum, time.Now().UTC())
	if !appended {
		return AppendResult{Incident: inc}, nil
	}
	const upd = `
		UPDATE watch_incidents SET verifiers = $1, status = $2, updated_at = $3 WHERE id = $4
	`
	if _, err := tx.ExecContext(ctx, upd, pq.Array(inc.Verifiers), inc.Status, inc.UpdatedAt, id); err != nil {
		return AppendResult{}, fmt.Errorf("update incident: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return AppendResult{}, fmt.Errorf("commit: %w", err)
	}
	return AppendResult{Incident: inc, Appended: true, Transitioned: transitioned}, nil
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
