package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/recruiter-loop/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the policy tables. The partial unique index keeps one active version per tenant and kind.
const Schema = `
CREATE TABLE IF NOT EXISTS policy_versions (
	id           UUID PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	kind         TEXT NOT NULL,
	number       INT NOT NULL,
	status       TEXT NOT NULL,
	content      JSONB NOT NULL,
	author_kind  TEXT NOT NULL,
	author_id    TEXT NOT NULL,
	author_via   TEXT NOT NULL DEFAULT '',
	parent_id    TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	decided_by   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	activated_at TIMESTAMPTZ,
	UNIQUE (tenant_id, kind, number)
);
ALTER TABLE policy_versions ADD COLUMN IF NOT EXISTS source TEXT NOT NULL DEFAULT '';
CREATE UNIQUE INDEX IF NOT EXISTS policy_versions_one_active
	ON policy_versions (tenant_id, kind) WHERE status = 'active';
CREATE UNIQUE INDEX IF NOT EXISTS policy_versions_source
	ON policy_versions (tenant_id, kind, source) WHERE source <> '';
`

const versionColumns = `id, tenant_id, kind, number, status, content, author_kind, author_id, author_via,
	parent_id, source, decided_by, created_at, activated_at`

// PostgresStore keeps policy versions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply policy schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func scanVersion(row pgx.Row) (*model.PolicyVersion, error) {
	v := &model.PolicyVersion{}
	var content []byte
	err := row.Scan(
		&v.ID, &v.TenantID, &v.Kind, &v.Number, &v.Status, &content,
		&v.Author.Kind, &v.Author.ID, &v.Author.Via,
		&v.ParentID, &v.Source, &v.DecidedBy, &v.CreatedAt, &v.ActivatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Content = content
	return v, nil
}

func (s *PostgresStore) Active(ctx context.Context, tenantID string, kind model.PolicyKind) (*model.PolicyVersion, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+versionColumns+` FROM policy_versions
		WHERE tenant_id = $1 AND kind = $2 AND status = 'active'`, tenantID, kind)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("no active %s for tenant %s", kind, tenantID)
	}
	return v, err
}

func (s *PostgresStore) Version(ctx context.Context, id string) (*model.PolicyVersion, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+versionColumns+` FROM policy_versions WHERE id = $1`, id)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("policy version %s", id)
	}
	return v, err
}

func (s *PostgresStore) List(ctx context.Context, tenantID string, kind model.PolicyKind) ([]*model.PolicyVersion, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+versionColumns+` FROM policy_versions
		WHERE tenant_id = $1 AND kind = $2 ORDER BY number ASC`, tenantID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PolicyVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DraftGuidelines(ctx context.Context, tenantID string, content model.Document, parentID string, author model.Author) (*model.PolicyVersion, error) {
	return s.CreateDraft(ctx, Draft{
		TenantID: tenantID,
		Kind:     model.KindGuidelines,
		Content:  content,
		ParentID: parentID,
		Author:   author,
	})
}

func (s *PostgresStore) CreateDraft(ctx context.Context, d Draft) (*model.PolicyVersion, error) {
	if err := validateDraft(d); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialises numbering per tenant and kind.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2))`, d.TenantID, string(d.Kind)); err != nil {
		return nil, fmt.Errorf("lock policy numbering: %w", err)
	}

	if d.Source != "" {
		row := tx.QueryRow(ctx, `SELECT `+versionColumns+` FROM policy_versions
			WHERE tenant_id = $1 AND kind = $2 AND source = $3`, d.TenantID, d.Kind, d.Source)
		existing, err := scanVersion(row)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("look up draft source: %w", err)
		}
	}

	var number int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(number), 0) + 1 FROM policy_versions
		WHERE tenant_id = $1 AND kind = $2`, d.TenantID, d.Kind).Scan(&number); err != nil {
		return nil, fmt.Errorf("next version number: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO policy_versions (id, tenant_id, kind, number, status, content, author_kind, author_id, author_via, parent_id, source)
		VALUES ($1, $2, $3, $4, 'draft', $5, $6, $7, $8, $9, $10)
		RETURNING `+versionColumns,
		uuid.NewString(), d.TenantID, d.Kind, number, []byte(d.Content),
		d.Author.Kind, d.Author.ID, d.Author.Via, d.ParentID, d.Source,
	)
	v, err := scanVersion(row)
	if err != nil {
		return nil, fmt.Errorf("insert policy draft: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit policy draft: %w", err)
	}
	return v, nil
}

// Activate archives the current active version and promotes id inside one transaction.
func (s *PostgresStore) Activate(ctx context.Context, id string, actor model.Author) (*model.PolicyVersion, error) {
	return s.decide(ctx, id, actor, func(tx pgx.Tx, v *model.PolicyVersion) (*model.PolicyVersion, error) {
		if _, err := tx.Exec(ctx, `UPDATE policy_versions SET status = 'archived'
			WHERE tenant_id = $1 AND kind = $2 AND status = 'active'`, v.TenantID, v.Kind); err != nil {
			return nil, fmt.Errorf("archive active version: %w", err)
		}
		row := tx.QueryRow(ctx, `UPDATE policy_versions
			SET status = 'active', activated_at = now(), decided_by = $2
			WHERE id = $1 RETURNING `+versionColumns, v.ID, actor.ID)
		return scanVersion(row)
	})
}

func (s *PostgresStore) Reject(ctx context.Context, id string, actor model.Author) (*model.PolicyVersion, error) {
	return s.decide(ctx, id, actor, func(tx pgx.Tx, v *model.PolicyVersion) (*model.PolicyVersion, error) {
		row := tx.QueryRow(ctx, `UPDATE policy_versions SET status = 'rejected', decided_by = $2
			WHERE id = $1 RETURNING `+versionColumns, v.ID, actor.ID)
		return scanVersion(row)
	})
}

func (s *PostgresStore) decide(ctx context.Context, id string, actor model.Author, apply func(pgx.Tx, *model.PolicyVersion) (*model.PolicyVersion, error)) (*model.PolicyVersion, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+versionColumns+` FROM policy_versions WHERE id = $1 FOR UPDATE`, id)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("policy version %s", id)
	}
	if err != nil {
		return nil, err
	}
	if err := checkDecision(v, actor); err != nil {
		return nil, err
	}

	updated, err := apply(tx, v)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit policy decision: %w", err)
	}
	return updated, nil
}
