package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"

	"github.com/google/uuid"
)

// =============================================================================
// MemoryRecordAdapter - in-process record store (development and tests)
// =============================================================================

// MemoryRecordAdapter keeps records in a map guarded by a single mutex, so
// every conditional update is a read-modify-write under the lock.
type MemoryRecordAdapter struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*domain.Record
	now     func() time.Time
}

func NewMemoryRecordAdapter() *MemoryRecordAdapter {
	return &MemoryRecordAdapter{
		records: make(map[uuid.UUID]*domain.Record),
		now:     time.Now,
	}
}

func (a *MemoryRecordAdapter) Create(ctx context.Context, record *domain.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if _, exists := a.records[record.ID]; exists {
		return domain.NewStoreError("create record", ErrDuplicate)
	}
	now := a.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = domain.StatusUnclassified
	}
	a.records[record.ID] = cloneRecord(record)
	return nil
}

func (a *MemoryRecordAdapter) GetByID(ctx context.Context, id uuid.UUID) (*domain.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	r, ok := a.records[id]
	if !ok {
		return nil, domain.NewStoreError("get record", domain.ErrNotFound)
	}
	return cloneRecord(r), nil
}

func (a *MemoryRecordAdapter) List(ctx context.Context, filter *domain.RecordFilter) (*domain.RecordPage, error) {
	if filter == nil {
		filter = &domain.RecordFilter{}
	}
	filter.Normalize()

	a.mu.RLock()
	matched := make([]*domain.Record, 0)
	for _, r := range a.records {
		if filter.Matches(r) {
			matched = append(matched, r)
		}
	}
	a.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ReceivedAt.Equal(matched[j].ReceivedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ReceivedAt.After(matched[j].ReceivedAt)
	})

	page := &domain.RecordPage{Total: len(matched), Limit: filter.Limit, Offset: filter.Offset}
	if filter.Offset >= len(matched) {
		page.Records = []*domain.Record{}
		return page, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Records = make([]*domain.Record, 0, end-filter.Offset)
	for _, r := range matched[filter.Offset:end] {
		page.Records = append(page.Records, cloneRecord(r))
	}
	return page, nil
}

func (a *MemoryRecordAdapter) Claim(ctx context.Context, id uuid.UUID, from []domain.ClassificationStatus, at time.Time) (*domain.Record, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[id]
	if !ok {
		return nil, false, domain.NewStoreError("claim record", domain.ErrNotFound)
	}
	if !statusIn(r.Status, from) {
		return cloneRecord(r), false, nil
	}
	claimedAt := at.UTC()
	if r.Status == domain.StatusClassified {
		// forced reclassification; fields stay all-or-nothing
		r.Classification = nil
		r.ClassifiedAt = nil
	}
	if r.Status != domain.StatusUnclassified {
		// a forced claim starts a fresh retry budget
		r.RetryCount = 0
	}
	r.Status = domain.StatusInFlight
	r.ClaimedAt = &claimedAt
	r.UpdatedAt = claimedAt
	return cloneRecord(r), true, nil
}

func (a *MemoryRecordAdapter) ApplyClassification(ctx context.Context, id uuid.UUID, c *domain.Classification, at time.Time) (*domain.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[id]
	if !ok {
		return nil, domain.NewStoreError("apply classification", domain.ErrNotFound)
	}
	if r.Status != domain.StatusInFlight {
		return nil, domain.ErrClaimLost
	}
	classified := *c
	classifiedAt := at.UTC()
	r.Classification = &classified
	r.ClassifiedAt = &classifiedAt
	r.Status = domain.StatusClassified
	r.ClaimedAt = nil
	r.LastError = ""
	r.UpdatedAt = classifiedAt
	return cloneRecord(r), nil
}

func (a *MemoryRecordAdapter) RecordFailure(ctx context.Context, id uuid.UUID, reason string, terminal bool) (*domain.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[id]
	if !ok {
		return nil, domain.NewStoreError("record failure", domain.ErrNotFound)
	}
	if r.Status != domain.StatusInFlight {
		return nil, domain.ErrClaimLost
	}
	r.RetryCount++
	r.LastError = reason
	r.ClaimedAt = nil
	if terminal {
		r.Status = domain.StatusFailed
	} else {
		r.Status = domain.StatusUnclassified
	}
	r.UpdatedAt = a.now().UTC()
	return cloneRecord(r), nil
}

func (a *MemoryRecordAdapter) ReleaseStale(ctx context.Context, claimedBefore time.Time) ([]uuid.UUID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var released []uuid.UUID
	for id, r := range a.records {
		if r.Status != domain.StatusInFlight || r.ClaimedAt == nil {
			continue
		}
		if r.ClaimedAt.Before(claimedBefore) {
			r.Status = domain.StatusUnclassified
			r.ClaimedAt = nil
			r.UpdatedAt = a.now().UTC()
			released = append(released, id)
		}
	}
	return released, nil
}

func (a *MemoryRecordAdapter) ListPending(ctx context.Context, idleSince time.Time, limit int) ([]uuid.UUID, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	pending := make([]*domain.Record, 0)
	for _, r := range a.records {
		if r.Status == domain.StatusUnclassified && r.UpdatedAt.Before(idleSince) {
			pending = append(pending, r)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].UpdatedAt.Before(pending[j].UpdatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	ids := make([]uuid.UUID, len(pending))
	for i, r := range pending {
		ids[i] = r.ID
	}
	return ids, nil
}

func (a *MemoryRecordAdapter) MarkRead(ctx context.Context, id uuid.UUID, read bool) (*domain.Record, error) {
	return a.mutate(id, "mark read", func(r *domain.Record) { r.IsRead = read })
}

func (a *MemoryRecordAdapter) ToggleFlag(ctx context.Context, id uuid.UUID) (*domain.Record, error) {
	return a.mutate(id, "toggle flag", func(r *domain.Record) { r.IsFlagged = !r.IsFlagged })
}

func (a *MemoryRecordAdapter) mutate(id uuid.UUID, op string, fn func(r *domain.Record)) (*domain.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[id]
	if !ok {
		return nil, domain.NewStoreError(op, domain.ErrNotFound)
	}
	fn(r)
	r.UpdatedAt = a.now().UTC()
	return cloneRecord(r), nil
}

func statusIn(s domain.ClassificationStatus, set []domain.ClassificationStatus) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func cloneRecord(r *domain.Record) *domain.Record {
	c := *r
	if r.Classification != nil {
		cls := *r.Classification
		c.Classification = &cls
	}
	if r.ClassifiedAt != nil {
		t := *r.ClassifiedAt
		c.ClassifiedAt = &t
	}
	if r.ClaimedAt != nil {
		t := *r.ClaimedAt
		c.ClaimedAt = &t
	}
	if r.Recipients != nil {
		c.Recipients = append([]string(nil), r.Recipients...)
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

var _ out.RecordRepository = (*MemoryRecordAdapter)(nil)

// =============================================================================
// MemoryReplyAdapter
// =============================================================================

type MemoryReplyAdapter struct {
	mu      sync.RWMutex
	replies map[uuid.UUID]*domain.SuggestedReply
}

func NewMemoryReplyAdapter() *MemoryReplyAdapter {
	return &MemoryReplyAdapter{replies: make(map[uuid.UUID]*domain.SuggestedReply)}
}

func (a *MemoryReplyAdapter) Create(ctx context.Context, reply *domain.SuggestedReply) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if reply.ID == uuid.Nil {
		reply.ID = uuid.New()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}
	c := *reply
	a.replies[reply.ID] = &c
	return nil
}

// ListByRecord returns replies newest first.
func (a *MemoryReplyAdapter) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*domain.SuggestedReply, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]*domain.SuggestedReply, 0)
	for _, r := range a.replies {
		if r.RecordID == recordID {
			c := *r
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (a *MemoryReplyAdapter) MarkUsed(ctx context.Context, id uuid.UUID) (*domain.SuggestedReply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.replies[id]
	if !ok {
		return nil, domain.NewStoreError("mark reply used", domain.ErrNotFound)
	}
	r.IsUsed = true
	c := *r
	return &c, nil
}

var _ out.ReplyRepository = (*MemoryReplyAdapter)(nil)

// =============================================================================
// MemoryKnowledgeAdapter
// =============================================================================

type MemoryKnowledgeAdapter struct {
	mu      sync.RWMutex
	entries []*domain.KnowledgeEntry
}

func NewMemoryKnowledgeAdapter(entries ...*domain.KnowledgeEntry) *MemoryKnowledgeAdapter {
	a := &MemoryKnowledgeAdapter{}
	a.Upsert(context.Background(), entries)
	return a
}

func (a *MemoryKnowledgeAdapter) List(ctx context.Context) ([]*domain.KnowledgeEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]*domain.KnowledgeEntry, len(a.entries))
	for i, e := range a.entries {
		c := *e
		c.Tags = append([]string(nil), e.Tags...)
		result[i] = &c
	}
	return result, nil
}

// Upsert matches entries by case-insensitive title.
func (a *MemoryKnowledgeAdapter) Upsert(ctx context.Context, entries []*domain.KnowledgeEntry) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, e := range entries {
		if e == nil || strings.TrimSpace(e.Title) == "" {
			continue
		}
		c := *e
		c.Tags = append([]string(nil), e.Tags...)
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}

		replaced := false
		for i, existing := range a.entries {
			if strings.EqualFold(existing.Title, c.Title) {
				c.ID = existing.ID
				a.entries[i] = &c
				replaced = true
				break
			}
		}
		if !replaced {
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			a.entries = append(a.entries, &c)
		}
		n++
	}
	return n, nil
}

var _ out.KnowledgeRepository = (*MemoryKnowledgeAdapter)(nil)
