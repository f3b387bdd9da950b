// Package reply drafts knowledge-grounded replies for records.
package reply

import (
	"context"
	"time"

	"inbox_worker/core/agent/rag"
	"inbox_worker/core/domain"
	"inbox_worker/core/port/in"
	"inbox_worker/core/port/out"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Config struct {
	TopN            int
	ContextLimit    int
	GenerateTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TopN:            domain.DefaultReplyTopN,
		ContextLimit:    domain.DefaultReplyContextLimit,
		GenerateTimeout: 60 * time.Second,
	}
}

type Service struct {
	records   out.RecordRepository
	replies   out.ReplyRepository
	retriever *rag.Retriever
	generator out.ReplyGenerator
	realtime  out.RealtimePort
	cfg       Config
	log       zerolog.Logger
}

var _ in.ReplyService = (*Service)(nil)

func NewService(
	records out.RecordRepository,
	replies out.ReplyRepository,
	retriever *rag.Retriever,
	generator out.ReplyGenerator,
	cfg Config,
	log zerolog.Logger,
) *Service {
	def := DefaultConfig()
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = def.ContextLimit
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = def.GenerateTimeout
	}
	return &Service{
		records:   records,
		replies:   replies,
		retriever: retriever,
		generator: generator,
		cfg:       cfg,
		log:       log.With().Str("component", "reply_service").Logger(),
	}
}

func (s *Service) SetRealtime(rt out.RealtimePort) {
	s.realtime = rt
}

// Suggest generates and stores a reply for a record. Store failures are
// returned as they are; anything that goes wrong while retrieving
// knowledge or generating is a *domain.SuggestionError.
func (s *Service) Suggest(ctx context.Context, recordID uuid.UUID) (*domain.SuggestedReply, error) {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}

	entries, err := s.retriever.Retrieve(ctx, rec, s.cfg.TopN)
	if err != nil {
		return nil, &domain.SuggestionError{RecordID: recordID, Err: err}
	}
	grounding := rag.BuildContext(entries)

	prompt := &out.ReplyPrompt{
		Kind:    rec.Kind,
		Sender:  rec.SenderLabel(),
		Subject: rec.Subject,
		Content: rec.Content,
		Context: grounding,
	}
	if rec.Classification != nil {
		prompt.Category = rec.Classification.Category
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()
	text, err := s.generator.GenerateReply(genCtx, prompt)
	if err != nil {
		s.log.Warn().Err(err).Str("record_id", recordID.String()).Msg("reply generation failed")
		return nil, &domain.SuggestionError{RecordID: recordID, Err: err}
	}

	reply := &domain.SuggestedReply{
		RecordID:    recordID,
		Text:        text,
		Confidence:  domain.SuggestedReplyConfidence,
		ContextUsed: rag.TruncateContext(grounding, s.cfg.ContextLimit),
	}
	if err := s.replies.Create(ctx, reply); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("record_id", recordID.String()).
		Str("reply_id", reply.ID.String()).
		Int("knowledge_entries", len(entries)).
		Msg("reply suggested")

	if s.realtime != nil {
		s.realtime.Broadcast(ctx, &domain.RealtimeEvent{
			Type:      domain.EventReplySuggested,
			Data:      reply,
			Timestamp: time.Now().UTC(),
		})
	}
	return reply, nil
}

func (s *Service) ListForRecord(ctx context.Context, recordID uuid.UUID) ([]*domain.SuggestedReply, error) {
	if _, err := s.records.GetByID(ctx, recordID); err != nil {
		return nil, err
	}
	return s.replies.ListByRecord(ctx, recordID)
}

func (s *Service) MarkUsed(ctx context.Context, replyID uuid.UUID) (*domain.SuggestedReply, error) {
	return s.replies.MarkUsed(ctx, replyID)
}
