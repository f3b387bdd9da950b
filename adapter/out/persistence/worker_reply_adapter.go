package persistence

import (
	"context"
	"strings"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ReplyAdapter implements out.ReplyRepository using PostgreSQL.
type ReplyAdapter struct {
	db *sqlx.DB
}

func NewReplyAdapter(db *sqlx.DB) *ReplyAdapter {
	return &ReplyAdapter{db: db}
}

type replyRow struct {
	ID            uuid.UUID `db:"id"`
	RecordID      uuid.UUID `db:"record_id"`
	SuggestedText string    `db:"suggested_text"`
	Confidence    float64   `db:"confidence"`
	ContextUsed   string    `db:"context_used"`
	IsUsed        bool      `db:"is_used"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r *replyRow) toDomain() *domain.SuggestedReply {
	return &domain.SuggestedReply{
		ID:          r.ID,
		RecordID:    r.RecordID,
		Text:        r.SuggestedText,
		Confidence:  r.Confidence,
		ContextUsed: r.ContextUsed,
		IsUsed:      r.IsUsed,
		CreatedAt:   r.CreatedAt,
	}
}

const replyColumns = "id, record_id, suggested_text, confidence, context_used, is_used, created_at"

func (a *ReplyAdapter) Create(ctx context.Context, reply *domain.SuggestedReply) error {
	if reply.ID == uuid.Nil {
		reply.ID = uuid.New()
	}
	query, args, err := psql.Insert("suggested_replies").
		Columns("id", "record_id", "suggested_text", "confidence", "context_used", "is_used").
		Values(reply.ID, reply.RecordID, reply.Text, reply.Confidence, reply.ContextUsed, reply.IsUsed).
		Suffix("RETURNING created_at").
		ToSql()
	if err != nil {
		return domain.NewStoreError("create reply", err)
	}
	if err := a.db.QueryRowxContext(ctx, query, args...).Scan(&reply.CreatedAt); err != nil {
		return storeErr("create reply", err)
	}
	return nil
}

func (a *ReplyAdapter) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*domain.SuggestedReply, error) {
	var rows []replyRow
	query := `SELECT ` + replyColumns + ` FROM suggested_replies WHERE record_id = $1 ORDER BY created_at DESC`
	if err := a.db.SelectContext(ctx, &rows, query, recordID); err != nil {
		return nil, storeErr("list replies", err)
	}
	result := make([]*domain.SuggestedReply, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toDomain())
	}
	return result, nil
}

func (a *ReplyAdapter) MarkUsed(ctx context.Context, id uuid.UUID) (*domain.SuggestedReply, error) {
	var row replyRow
	query := `UPDATE suggested_replies SET is_used = TRUE WHERE id = $1 RETURNING ` + replyColumns
	if err := a.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, storeErr("mark reply used", err)
	}
	return row.toDomain(), nil
}

var _ out.ReplyRepository = (*ReplyAdapter)(nil)

// =============================================================================
// KnowledgeAdapter
// =============================================================================

type KnowledgeAdapter struct {
	db *sqlx.DB
}

func NewKnowledgeAdapter(db *sqlx.DB) *KnowledgeAdapter {
	return &KnowledgeAdapter{db: db}
}

type knowledgeRow struct {
	ID        uuid.UUID      `db:"id"`
	Title     string         `db:"title"`
	Content   string         `db:"content"`
	Category  string         `db:"category"`
	Tags      pq.StringArray `db:"tags"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r *knowledgeRow) toDomain() *domain.KnowledgeEntry {
	return &domain.KnowledgeEntry{
		ID:        r.ID,
		Title:     r.Title,
		Content:   r.Content,
		Category:  r.Category,
		Tags:      []string(r.Tags),
		CreatedAt: r.CreatedAt,
	}
}

// List returns the corpus newest first.
func (a *KnowledgeAdapter) List(ctx context.Context) ([]*domain.KnowledgeEntry, error) {
	var rows []knowledgeRow
	query := `SELECT id, title, content, category, tags, created_at FROM knowledge_entries ORDER BY created_at DESC`
	if err := a.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, storeErr("list knowledge", err)
	}
	result := make([]*domain.KnowledgeEntry, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toDomain())
	}
	return result, nil
}

// Upsert inserts or replaces entries keyed by case-insensitive title.
func (a *KnowledgeAdapter) Upsert(ctx context.Context, entries []*domain.KnowledgeEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	b := psql.Insert("knowledge_entries").Columns("id", "title", "content", "category", "tags")
	n := 0
	for _, e := range entries {
		if e == nil || strings.TrimSpace(e.Title) == "" {
			continue
		}
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		b = b.Values(e.ID, e.Title, e.Content, e.Category, pq.Array(e.Tags))
		n++
	}
	if n == 0 {
		return 0, nil
	}

	query, args, err := b.
		Suffix(`ON CONFLICT ((LOWER(title))) DO UPDATE SET content = EXCLUDED.content, category = EXCLUDED.category, tags = EXCLUDED.tags`).
		ToSql()
	if err != nil {
		return 0, domain.NewStoreError("upsert knowledge", err)
	}
	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		return 0, storeErr("upsert knowledge", err)
	}
	return n, nil
}

var _ out.KnowledgeRepository = (*KnowledgeAdapter)(nil)
