// Package record implements ingestion and the synchronous record operations.
package record

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/in"
	"inbox_worker/core/port/out"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxContentLength = 100_000
	maxSubjectLength = 1_000
)

type Service struct {
	records  out.RecordRepository
	queue    out.DispatchQueue
	realtime out.RealtimePort
	now      func() time.Time
	log      zerolog.Logger
}

var _ in.RecordService = (*Service)(nil)

func NewService(records out.RecordRepository, queue out.DispatchQueue, log zerolog.Logger) *Service {
	return &Service{
		records: records,
		queue:   queue,
		now:     time.Now,
		log:     log.With().Str("component", "record_service").Logger(),
	}
}

func (s *Service) SetRealtime(rt out.RealtimePort) {
	s.realtime = rt
}

// Ingest validates and stores a record, then schedules its classification.
// It never waits for classification.
func (s *Service) Ingest(ctx context.Context, req *in.IngestRequest) (*domain.Record, error) {
	rec, err := s.buildRecord(req)
	if err != nil {
		return nil, err
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("record_id", rec.ID.String()).
		Str("kind", string(rec.Kind)).
		Str("platform", string(rec.Platform)).
		Msg("record ingested")

	s.broadcast(ctx, domain.EventRecordInserted, rec)
	s.schedule(ctx, rec.ID, false, "ingest")
	return rec, nil
}

func (s *Service) buildRecord(req *in.IngestRequest) (*domain.Record, error) {
	if req == nil {
		return nil, domain.NewValidationError("body", "is required")
	}
	kind := domain.RecordKind(strings.ToLower(strings.TrimSpace(string(req.Kind))))
	if !kind.Valid() {
		return nil, domain.NewValidationError("kind", "must be message or email")
	}
	platform := domain.Platform(strings.ToLower(strings.TrimSpace(string(req.Platform))))
	if !domain.ValidPlatform(kind, platform) {
		return nil, domain.NewValidationError("platform", fmt.Sprintf("%q is not a %s platform", req.Platform, kind))
	}

	content := req.Content
	var contentHTML string
	switch strings.ToLower(req.ContentType) {
	case "", "text":
	case "html":
		text, err := htmlToText(req.Content)
		if err != nil {
			return nil, domain.NewValidationError("content", "is not parseable html")
		}
		contentHTML, content = req.Content, text
	default:
		return nil, domain.NewValidationError("content_type", "must be text or html")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.NewValidationError("content", "must not be empty")
	}
	if len(content) > maxContentLength {
		return nil, domain.NewValidationError("content", "is too long")
	}
	if len(req.Subject) > maxSubjectLength {
		return nil, domain.NewValidationError("subject", "is too long")
	}

	senderName := strings.TrimSpace(req.SenderName)
	senderEmail := strings.TrimSpace(req.SenderEmail)
	switch kind {
	case domain.RecordKindEmail:
		if senderEmail == "" {
			return nil, domain.NewValidationError("sender_email", "is required for email")
		}
		addr, err := mail.ParseAddress(senderEmail)
		if err != nil {
			return nil, domain.NewValidationError("sender_email", "is not a valid address")
		}
		senderEmail = addr.Address
		if senderName == "" {
			senderName = addr.Name
		}
		for _, r := range req.Recipients {
			if _, err := mail.ParseAddress(r); err != nil {
				return nil, domain.NewValidationError("recipients", fmt.Sprintf("%q is not a valid address", r))
			}
		}
	case domain.RecordKindMessage:
		if senderName == "" && strings.TrimSpace(req.SenderID) == "" {
			return nil, domain.NewValidationError("sender", "sender_name or sender_id is required")
		}
	}

	receivedAt := s.now().UTC()
	if req.ReceivedAt != nil && !req.ReceivedAt.IsZero() {
		receivedAt = req.ReceivedAt.UTC()
	}

	return &domain.Record{
		Kind:        kind,
		Platform:    platform,
		ExternalID:  strings.TrimSpace(req.ExternalID),
		SenderID:    strings.TrimSpace(req.SenderID),
		SenderName:  senderName,
		SenderEmail: senderEmail,
		Recipients:  req.Recipients,
		Subject:     strings.TrimSpace(req.Subject),
		Content:     content,
		ContentHTML: contentHTML,
		Metadata:    req.Metadata,
		ReceivedAt:  receivedAt,
		Status:      domain.StatusUnclassified,
	}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Record, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter *domain.RecordFilter) (*domain.RecordPage, error) {
	if filter == nil {
		filter = &domain.RecordFilter{}
	}
	filter.Normalize()
	return s.records.List(ctx, filter)
}

func (s *Service) MarkRead(ctx context.Context, id uuid.UUID, read bool) (*domain.Record, error) {
	rec, err := s.records.MarkRead(ctx, id, read)
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, domain.EventRecordUpdated, rec)
	return rec, nil
}

func (s *Service) ToggleFlag(ctx context.Context, id uuid.UUID) (*domain.Record, error) {
	rec, err := s.records.ToggleFlag(ctx, id)
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, domain.EventRecordUpdated, rec)
	return rec, nil
}

// Redispatch schedules a manual classification. A record that is being
// classified right now is rejected with ErrAlreadyInFlight.
func (s *Service) Redispatch(ctx context.Context, id uuid.UUID, force bool) error {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == domain.StatusInFlight {
		return domain.ErrAlreadyInFlight
	}
	return s.enqueue(ctx, id, force, "manual")
}

// schedule enqueues without failing the caller; a dropped job is picked up
// by the reconciliation sweep.
func (s *Service) schedule(ctx context.Context, id uuid.UUID, force bool, reason string) {
	if err := s.enqueue(ctx, id, force, reason); err != nil {
		s.log.Warn().Err(err).Str("record_id", id.String()).Msg("dispatch not scheduled, left for reconciliation")
	}
}

func (s *Service) enqueue(ctx context.Context, id uuid.UUID, force bool, reason string) error {
	if s.queue == nil {
		return fmt.Errorf("dispatch queue not configured")
	}
	return s.queue.Enqueue(ctx, &out.DispatchJob{
		RecordID:   id,
		Force:      force,
		Attempt:    1,
		Reason:     reason,
		EnqueuedAt: s.now().UTC(),
	})
}

func (s *Service) broadcast(ctx context.Context, t domain.EventType, rec *domain.Record) {
	if s.realtime == nil {
		return
	}
	ev := &domain.RealtimeEvent{Type: t, Data: rec, Timestamp: s.now().UTC()}
	if err := s.realtime.Broadcast(ctx, ev); err != nil {
		s.log.Debug().Err(err).Str("event", string(t)).Msg("realtime broadcast failed")
	}
}
