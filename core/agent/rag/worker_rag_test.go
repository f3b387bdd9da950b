package rag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"inbox_worker/core/domain"

	"github.com/rs/zerolog"
)

func seedEntries() []*domain.KnowledgeEntry {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []*domain.KnowledgeEntry{
		{Title: "Company Information", Content: "We build software.", Category: "company", Tags: []string{"about", "services"}, CreatedAt: base},
		{Title: "Interview Process", Content: "Three rounds.", Category: "hiring", Tags: []string{"interview", "hiring"}, CreatedAt: base.Add(time.Hour)},
		{Title: "Meeting Booking", Content: "Use the calendar link.", Category: "scheduling", Tags: []string{"meeting", "calendar", "meeting_booked"}, CreatedAt: base.Add(2 * time.Hour)},
		{Title: "Support Contact", Content: "Email support@example.com.", Category: "support", Tags: []string{"support", "help", "contact"}, CreatedAt: base.Add(3 * time.Hour)},
	}
}

func TestRanker_CategoryAndTags(t *testing.T) {
	r := NewRanker()

	ranked := r.Rank(seedEntries(), domain.CategorySupport, "I need help with the integration", 5)
	if len(ranked) != 4 {
		t.Fatalf("ranked = %d, want 4", len(ranked))
	}
	if ranked[0].Title != "Support Contact" {
		t.Errorf("top entry = %q, want Support Contact", ranked[0].Title)
	}

	ranked = r.Rank(seedEntries(), domain.CategoryMeetingBooked, "see you tuesday", 1)
	if len(ranked) != 1 || ranked[0].Title != "Meeting Booking" {
		t.Errorf("meeting_booked should pick Meeting Booking, got %+v", ranked)
	}
}

func TestRanker_RecencyBreaksTies(t *testing.T) {
	ranked := NewRanker().Rank(seedEntries(), "", "", 2)
	if len(ranked) != 2 {
		t.Fatalf("ranked = %d, want 2", len(ranked))
	}
	if ranked[0].Title != "Support Contact" || ranked[1].Title != "Meeting Booking" {
		t.Errorf("expected newest first, got %q, %q", ranked[0].Title, ranked[1].Title)
	}
}

func TestRanker_Empty(t *testing.T) {
	if got := NewRanker().Rank(nil, domain.CategorySpam, "x", 5); got != nil {
		t.Errorf("empty corpus should rank to nil, got %v", got)
	}
}

func TestBuildContext(t *testing.T) {
	ranked := []*RankedEntry{
		{KnowledgeEntry: &domain.KnowledgeEntry{Title: "A", Content: "one"}},
		{KnowledgeEntry: &domain.KnowledgeEntry{Title: "B", Content: " two "}},
	}
	if got := BuildContext(ranked); got != "A: one\n\nB: two" {
		t.Errorf("BuildContext = %q", got)
	}
	if got := BuildContext(nil); got != "" {
		t.Errorf("empty context = %q", got)
	}
}

func TestTruncateContext(t *testing.T) {
	if got := TruncateContext("héllo", 2); got != "hé" {
		t.Errorf("TruncateContext = %q", got)
	}
	if got := TruncateContext("short", 500); got != "short" {
		t.Errorf("TruncateContext = %q", got)
	}
}

type slowRepo struct {
	calls   int32
	entries []*domain.KnowledgeEntry
	err     error
	delay   time.Duration
}

func (s *slowRepo) List(context.Context) ([]*domain.KnowledgeEntry, error) {
	atomic.AddInt32(&s.calls, 1)
	time.Sleep(s.delay)
	return s.entries, s.err
}

func (s *slowRepo) Upsert(context.Context, []*domain.KnowledgeEntry) (int, error) { return 0, nil }

type memCache struct {
	mu      sync.Mutex
	entries []*domain.KnowledgeEntry
	set     bool
}

func (m *memCache) Get(context.Context) ([]*domain.KnowledgeEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries, m.set
}

func (m *memCache) Set(_ context.Context, e []*domain.KnowledgeEntry, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries, m.set = e, true
	return nil
}

func (m *memCache) Invalidate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries, m.set = nil, false
	return nil
}

func TestRetriever_SnapshotDeduplicatesLoads(t *testing.T) {
	repo := &slowRepo{entries: seedEntries(), delay: 50 * time.Millisecond}
	r := NewRetriever(repo, nil, time.Minute, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Snapshot(context.Background()); err != nil {
				t.Errorf("Snapshot: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls := atomic.LoadInt32(&repo.calls); calls != 1 {
		t.Errorf("repository loads = %d, want 1", calls)
	}
}

func TestRetriever_UsesCache(t *testing.T) {
	repo := &slowRepo{entries: seedEntries()}
	cache := &memCache{}
	r := NewRetriever(repo, cache, time.Minute, zerolog.Nop())

	rec := &domain.Record{Kind: domain.RecordKindMessage, Content: "reset my password please, need help",
		Classification: &domain.Classification{Category: domain.CategorySupportRequest}}

	for i := 0; i < 3; i++ {
		if _, err := r.Retrieve(context.Background(), rec, 5); err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
	}
	if repo.calls != 1 {
		t.Errorf("repository loads = %d, want 1", repo.calls)
	}

	r.Invalidate(context.Background())
	r.Retrieve(context.Background(), rec, 5)
	if repo.calls != 2 {
		t.Errorf("repository loads after invalidate = %d, want 2", repo.calls)
	}
}

func TestRetriever_EmptyCorpusAndErrors(t *testing.T) {
	r := NewRetriever(&slowRepo{}, nil, time.Minute, zerolog.Nop())
	got, err := r.Retrieve(context.Background(), &domain.Record{Content: "hi"}, 5)
	if err != nil || len(got) != 0 {
		t.Errorf("empty corpus: %v %v", got, err)
	}

	r = NewRetriever(&slowRepo{err: errors.New("db down")}, nil, time.Minute, zerolog.Nop())
	if _, err := r.Retrieve(context.Background(), &domain.Record{Content: "hi"}, 5); err == nil {
		t.Error("repository errors should surface")
	}
}
