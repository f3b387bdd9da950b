package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var recordColumns = []string{
	"id", "kind", "platform", "external_id", "sender_id", "sender_name", "sender_email",
	"recipients", "subject", "content", "content_html", "metadata", "received_at",
	"status", "category", "confidence", "sentiment", "priority", "is_urgent", "rationale",
	"classified_at", "retry_count", "last_error", "claimed_at",
	"is_read", "is_flagged", "created_at", "updated_at",
}

var returningRecord = "RETURNING " + strings.Join(recordColumns, ", ")

// RecordAdapter implements out.RecordRepository using PostgreSQL.
type RecordAdapter struct {
	db *sqlx.DB
}

func NewRecordAdapter(db *sqlx.DB) *RecordAdapter {
	return &RecordAdapter{db: db}
}

// recordRow represents the database row.
type recordRow struct {
	ID          uuid.UUID      `db:"id"`
	Kind        string         `db:"kind"`
	Platform    string         `db:"platform"`
	ExternalID  sql.NullString `db:"external_id"`
	SenderID    sql.NullString `db:"sender_id"`
	SenderName  sql.NullString `db:"sender_name"`
	SenderEmail sql.NullString `db:"sender_email"`
	Recipients  pq.StringArray `db:"recipients"`
	Subject     sql.NullString `db:"subject"`
	Content     string         `db:"content"`
	ContentHTML sql.NullString `db:"content_html"`
	Metadata    []byte         `db:"metadata"`
	ReceivedAt  time.Time      `db:"received_at"`

	Status       string          `db:"status"`
	Category     sql.NullString  `db:"category"`
	Confidence   sql.NullFloat64 `db:"confidence"`
	Sentiment    sql.NullFloat64 `db:"sentiment"`
	Priority     sql.NullFloat64 `db:"priority"`
	IsUrgent     sql.NullBool    `db:"is_urgent"`
	Rationale    sql.NullString  `db:"rationale"`
	ClassifiedAt sql.NullTime    `db:"classified_at"`
	RetryCount   int             `db:"retry_count"`
	LastError    sql.NullString  `db:"last_error"`
	ClaimedAt    sql.NullTime    `db:"claimed_at"`

	IsRead    bool      `db:"is_read"`
	IsFlagged bool      `db:"is_flagged"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *recordRow) toDomain() *domain.Record {
	rec := &domain.Record{
		ID:          r.ID,
		Kind:        domain.RecordKind(r.Kind),
		Platform:    domain.Platform(r.Platform),
		ExternalID:  r.ExternalID.String,
		SenderID:    r.SenderID.String,
		SenderName:  r.SenderName.String,
		SenderEmail: r.SenderEmail.String,
		Recipients:  []string(r.Recipients),
		Subject:     r.Subject.String,
		Content:     r.Content,
		ContentHTML: r.ContentHTML.String,
		ReceivedAt:  r.ReceivedAt,
		Status:      domain.ClassificationStatus(r.Status),
		RetryCount:  r.RetryCount,
		LastError:   r.LastError.String,
		IsRead:      r.IsRead,
		IsFlagged:   r.IsFlagged,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}

	// The table check constraint keeps these all set or all null.
	if rec.Status == domain.StatusClassified && r.Category.Valid {
		rec.Classification = &domain.Classification{
			Category:   domain.Category(r.Category.String),
			Confidence: r.Confidence.Float64,
			Sentiment:  r.Sentiment.Float64,
			Priority:   r.Priority.Float64,
			Urgent:     r.IsUrgent.Bool,
			Rationale:  r.Rationale.String,
		}
	}
	if r.ClassifiedAt.Valid {
		rec.ClassifiedAt = &r.ClassifiedAt.Time
	}
	if r.ClaimedAt.Valid {
		rec.ClaimedAt = &r.ClaimedAt.Time
	}
	if len(r.Metadata) > 0 {
		json.Unmarshal(r.Metadata, &rec.Metadata)
	}
	return rec
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts a new unclassified record.
func (a *RecordAdapter) Create(ctx context.Context, record *domain.Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = domain.StatusUnclassified
	}

	var metadata []byte
	if record.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(record.Metadata); err != nil {
			return domain.NewStoreError("create record", err)
		}
	}

	query, args, err := psql.Insert("records").
		Columns("id", "kind", "platform", "external_id", "sender_id", "sender_name", "sender_email",
			"recipients", "subject", "content", "content_html", "metadata", "received_at", "status").
		Values(record.ID, string(record.Kind), string(record.Platform), nullString(record.ExternalID),
			nullString(record.SenderID), nullString(record.SenderName), nullString(record.SenderEmail),
			pq.Array(record.Recipients), nullString(record.Subject), record.Content,
			nullString(record.ContentHTML), metadata, record.ReceivedAt, string(record.Status)).
		Suffix("RETURNING created_at, updated_at").
		ToSql()
	if err != nil {
		return domain.NewStoreError("create record", err)
	}

	if err := a.db.QueryRowxContext(ctx, query, args...).Scan(&record.CreatedAt, &record.UpdatedAt); err != nil {
		return storeErr("create record", err)
	}
	return nil
}

func (a *RecordAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Record, error) {
	query, args, err := psql.Select(recordColumns...).From("records").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, domain.NewStoreError("get record", err)
	}

	var row recordRow
	if err := a.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, storeErr("get record", err)
	}
	return row.toDomain(), nil
}

// List applies the filter, newest first.
func (a *RecordAdapter) List(ctx context.Context, filter *domain.RecordFilter) (*domain.RecordPage, error) {
	if filter == nil {
		filter = &domain.RecordFilter{}
	}
	filter.Normalize()
	where := filterConditions(filter)

	countQuery, countArgs, err := psql.Select("COUNT(*)").From("records").Where(where).ToSql()
	if err != nil {
		return nil, domain.NewStoreError("count records", err)
	}
	var total int
	if err := a.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, storeErr("count records", err)
	}

	query, args, err := psql.Select(recordColumns...).From("records").
		Where(where).
		OrderBy("received_at DESC", "created_at DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset)).
		ToSql()
	if err != nil {
		return nil, domain.NewStoreError("list records", err)
	}

	var rows []recordRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storeErr("list records", err)
	}

	page := &domain.RecordPage{
		Records: make([]*domain.Record, 0, len(rows)),
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}
	for i := range rows {
		page.Records = append(page.Records, rows[i].toDomain())
	}
	return page, nil
}

func filterConditions(f *domain.RecordFilter) sq.And {
	where := sq.And{}
	if f.Kind != "" {
		where = append(where, sq.Eq{"kind": string(f.Kind)})
	}
	if f.Platform != "" {
		where = append(where, sq.Eq{"platform": string(f.Platform)})
	}
	if f.Status != "" {
		where = append(where, sq.Eq{"status": string(f.Status)})
	}
	if f.Category != "" {
		where = append(where, sq.Eq{"category": string(f.Category)})
	}
	switch f.Priority {
	case domain.PriorityHigh:
		where = append(where, sq.Gt{"priority": domain.PriorityHighThreshold})
	case domain.PriorityLow:
		where = append(where, sq.Lt{"priority": domain.PriorityLowThreshold})
	case domain.PriorityMedium:
		where = append(where,
			sq.GtOrEq{"priority": domain.PriorityLowThreshold},
			sq.LtOrEq{"priority": domain.PriorityHighThreshold})
	}
	if f.IsRead != nil {
		where = append(where, sq.Eq{"is_read": *f.IsRead})
	}
	if f.IsFlagged != nil {
		where = append(where, sq.Eq{"is_flagged": *f.IsFlagged})
	}
	if f.Search != "" {
		pattern := "%" + escapeLike(f.Search) + "%"
		where = append(where, sq.Or{
			sq.ILike{"subject": pattern},
			sq.ILike{"sender_name": pattern},
			sq.ILike{"sender_email": pattern},
			sq.ILike{"content": pattern},
		})
	}
	return where
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func statusStrings(statuses []domain.ClassificationStatus) []string {
	result := make([]string, len(statuses))
	for i, s := range statuses {
		result[i] = string(s)
	}
	return result
}

// Claim is a single conditional UPDATE. Clearing the classification columns
// keeps the all-or-nothing check satisfied on a forced reclassification.
func (a *RecordAdapter) Claim(ctx context.Context, id uuid.UUID, from []domain.ClassificationStatus, at time.Time) (*domain.Record, bool, error) {
	query, args, err := psql.Update("records").
		SetMap(map[string]any{
			"status":        string(domain.StatusInFlight),
			"claimed_at":    at.UTC(),
			"updated_at":    at.UTC(),
			"category":      nil,
			"confidence":    nil,
			"sentiment":     nil,
			"priority":      nil,
			"is_urgent":     nil,
			"rationale":     nil,
			"classified_at": nil,
			"retry_count":   sq.Expr("CASE WHEN status = ? THEN retry_count ELSE 0 END", string(domain.StatusUnclassified)),
		}).
		Where(sq.Eq{"id": id, "status": statusStrings(from)}).
		Suffix(returningRecord).
		ToSql()
	if err != nil {
		return nil, false, domain.NewStoreError("claim record", err)
	}

	var row recordRow
	err = a.db.GetContext(ctx, &row, query, args...)
	if err == nil {
		return row.toDomain(), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, storeErr("claim record", err)
	}

	current, err := a.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (a *RecordAdapter) ApplyClassification(ctx context.Context, id uuid.UUID, c *domain.Classification, at time.Time) (*domain.Record, error) {
	query, args, err := psql.Update("records").
		SetMap(map[string]any{
			"status":        string(domain.StatusClassified),
			"category":      string(c.Category),
			"confidence":    c.Confidence,
			"sentiment":     c.Sentiment,
			"priority":      c.Priority,
			"is_urgent":     c.Urgent,
			"rationale":     nullString(c.Rationale),
			"classified_at": at.UTC(),
			"claimed_at":    nil,
			"last_error":    nil,
			"updated_at":    at.UTC(),
		}).
		Where(sq.Eq{"id": id, "status": string(domain.StatusInFlight)}).
		Suffix(returningRecord).
		ToSql()
	if err != nil {
		return nil, domain.NewStoreError("apply classification", err)
	}

	var row recordRow
	if err := a.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, a.claimLostOrMissing(ctx, id, "apply classification")
		}
		return nil, storeErr("apply classification", err)
	}
	return row.toDomain(), nil
}

func (a *RecordAdapter) RecordFailure(ctx context.Context, id uuid.UUID, reason string, terminal bool) (*domain.Record, error) {
	next := domain.StatusUnclassified
	if terminal {
		next = domain.StatusFailed
	}

	query, args, err := psql.Update("records").
		Set("status", string(next)).
		Set("retry_count", sq.Expr("retry_count + 1")).
		Set("last_error", nullString(reason)).
		Set("claimed_at", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "status": string(domain.StatusInFlight)}).
		Suffix(returningRecord).
		ToSql()
	if err != nil {
		return nil, domain.NewStoreError("record failure", err)
	}

	var row recordRow
	if err := a.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, a.claimLostOrMissing(ctx, id, "record failure")
		}
		return nil, storeErr("record failure", err)
	}
	return row.toDomain(), nil
}

func (a *RecordAdapter) claimLostOrMissing(ctx context.Context, id uuid.UUID, op string) error {
	var exists bool
	if err := a.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM records WHERE id = $1)`, id); err != nil {
		return storeErr(op, err)
	}
	if !exists {
		return domain.NewStoreError(op, domain.ErrNotFound)
	}
	return domain.ErrClaimLost
}

func (a *RecordAdapter) ReleaseStale(ctx context.Context, claimedBefore time.Time) ([]uuid.UUID, error) {
	query, args, err := psql.Update("records").
		Set("status", string(domain.StatusUnclassified)).
		Set("claimed_at", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"status": string(domain.StatusInFlight)}).
		Where(sq.Lt{"claimed_at": claimedBefore.UTC()}).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, domain.NewStoreError("release stale", err)
	}

	var ids []uuid.UUID
	if err := a.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, storeErr("release stale", err)
	}
	return ids, nil
}

func (a *RecordAdapter) ListPending(ctx context.Context, idleSince time.Time, limit int) ([]uuid.UUID, error) {
	q := psql.Select("id").From("records").
		Where(sq.Eq{"status": string(domain.StatusUnclassified)}).
		Where(sq.Lt{"updated_at": idleSince.UTC()}).
		OrderBy("updated_at ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, domain.NewStoreError("list pending", err)
	}

	var ids []uuid.UUID
	if err := a.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, storeErr("list pending", err)
	}
	return ids, nil
}

func (a *RecordAdapter) MarkRead(ctx context.Context, id uuid.UUID, read bool) (*domain.Record, error) {
	return a.updateState(ctx, "mark read", psql.Update("records").Set("is_read", read), id)
}

func (a *RecordAdapter) ToggleFlag(ctx context.Context, id uuid.UUID) (*domain.Record, error) {
	return a.updateState(ctx, "toggle flag", psql.Update("records").Set("is_flagged", sq.Expr("NOT is_flagged")), id)
}

func (a *RecordAdapter) updateState(ctx context.Context, op string, b sq.UpdateBuilder, id uuid.UUID) (*domain.Record, error) {
	query, args, err := b.Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		Suffix(returningRecord).
		ToSql()
	if err != nil {
		return nil, domain.NewStoreError(op, err)
	}

	var row recordRow
	if err := a.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, storeErr(op, err)
	}
	return row.toDomain(), nil
}

var _ out.RecordRepository = (*RecordAdapter)(nil)
