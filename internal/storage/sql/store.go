package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/on-par/agent-ops/internal/domain"
	"github.com/on-par/agent-ops/internal/orchestrator"
)

// Store implements the orchestrator's work-item store and template source
// on top of database/sql (PostgreSQL via pgx, or SQLite).
type Store struct {
	db *sql.DB
}

// Compile-time verification that Store satisfies the orchestrator contracts.
var (
	_ orchestrator.WorkStore      = (*Store)(nil)
	_ orchestrator.TemplateSource = (*Store)(nil)
)

func newStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const workItemColumns = `id, type, status, repository_id, created_by,
	success_criteria, linked_files, blocked_by, child_ids,
	created_at, updated_at, started_at, completed_at`

// FindByStatus returns all work items with the given status, oldest first.
func (s *Store) FindByStatus(ctx context.Context, status domain.WorkItemStatus) ([]domain.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE status = $1 ORDER BY created_at`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query work items by status: %w", err)
	}
	defer rows.Close()

	return scanWorkItems(rows)
}

// FindByID returns a single work item, or domain.ErrWorkItemNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (*domain.WorkItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE id = $1`, id)

	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrWorkItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query work item %s: %w", id, err)
	}
	return item, nil
}

// FindByIDs returns the work items matching the given IDs. Missing IDs are
// simply absent from the result.
func (s *Store) FindByIDs(ctx context.Context, ids []string) ([]domain.WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items by ids: %w", err)
	}
	defer rows.Close()

	return scanWorkItems(rows)
}

// Update applies a partial update. Nil fields are left untouched;
// updated_at always advances.
func (s *Store) Update(ctx context.Context, id string, update domain.WorkItemUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		args = append(args, string(*update.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if update.StartedAt != nil {
		args = append(args, update.StartedAt.UTC())
		sets = append(sets, fmt.Sprintf("started_at = $%d", len(args)))
	}
	if update.CompletedAt != nil {
		args = append(args, update.CompletedAt.UTC())
		sets = append(sets, fmt.Sprintf("completed_at = $%d", len(args)))
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE work_items SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update work item %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result for %s: %w", id, err)
	}
	if affected == 0 {
		return domain.ErrWorkItemNotFound
	}
	return nil
}

// CreateWorkItem inserts a new work item.
func (s *Store) CreateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	criteria, err := marshalStrings(item.SuccessCriteria)
	if err != nil {
		return err
	}
	files, err := marshalStrings(item.LinkedFiles)
	if err != nil {
		return err
	}
	blockedBy, err := marshalStrings(item.BlockedBy)
	if err != nil {
		return err
	}
	children, err := marshalStrings(item.ChildIDs)
	if err != nil {
		return err
	}

	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := item.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO work_items (`+workItemColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		item.ID, string(item.Type), string(item.Status), nullString(item.RepositoryID),
		item.CreatedBy, criteria, files, blockedBy, children,
		createdAt.UTC(), updatedAt.UTC(), nullTime(item.StartedAt), nullTime(item.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to create work item %s: %w", item.ID, err)
	}
	return nil
}

// FindTemplate returns a worker template, or domain.ErrTemplateNotFound.
func (s *Store) FindTemplate(ctx context.Context, id string) (*domain.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, allowed_types, default_role FROM templates WHERE id = $1`, id)

	var tmpl domain.Template
	var allowedTypes []byte
	var defaultRole string
	err := row.Scan(&tmpl.ID, &allowedTypes, &defaultRole)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template %s: %w", id, err)
	}

	if err := json.Unmarshal(allowedTypes, &tmpl.AllowedTypes); err != nil {
		return nil, fmt.Errorf("failed to decode allowed types for template %s: %w", id, err)
	}
	tmpl.DefaultRole = domain.Role(defaultRole)
	return &tmpl, nil
}

// CreateTemplate inserts a worker template.
func (s *Store) CreateTemplate(ctx context.Context, tmpl *domain.Template) error {
	allowedTypes, err := marshalStrings(tmpl.AllowedTypes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (id, allowed_types, default_role) VALUES ($1, $2, $3)`,
		tmpl.ID, allowedTypes, string(tmpl.DefaultRole))
	if err != nil {
		return fmt.Errorf("failed to create template %s: %w", tmpl.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*domain.WorkItem, error) {
	var item domain.WorkItem
	var typ, status string
	var repositoryID sql.NullString
	var criteria, files, blockedBy, children []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&item.ID, &typ, &status, &repositoryID, &item.CreatedBy,
		&criteria, &files, &blockedBy, &children,
		&item.CreatedAt, &item.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	item.Type = domain.WorkItemType(typ)
	item.Status = domain.WorkItemStatus(status)
	if repositoryID.Valid {
		item.RepositoryID = repositoryID.String
	}
	if err := json.Unmarshal(criteria, &item.SuccessCriteria); err != nil {
		return nil, fmt.Errorf("failed to decode success criteria for %s: %w", item.ID, err)
	}
	if err := json.Unmarshal(files, &item.LinkedFiles); err != nil {
		return nil, fmt.Errorf("failed to decode linked files for %s: %w", item.ID, err)
	}
	if err := json.Unmarshal(blockedBy, &item.BlockedBy); err != nil {
		return nil, fmt.Errorf("failed to decode blockers for %s: %w", item.ID, err)
	}
	if err := json.Unmarshal(children, &item.ChildIDs); err != nil {
		return nil, fmt.Errorf("failed to decode child ids for %s: %w", item.ID, err)
	}
	if startedAt.Valid {
		t := startedAt.Time
		item.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		item.CompletedAt = &t
	}
	return &item, nil
}

func scanWorkItems(rows *sql.Rows) ([]domain.WorkItem, error) {
	var items []domain.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate work items: %w", err)
	}
	return items, nil
}

func marshalStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("failed to encode string list: %w", err)
	}
	return data, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
