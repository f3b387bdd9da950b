package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"inbox_worker/config"
	"inbox_worker/core/domain"
	"inbox_worker/core/port/in"
	"inbox_worker/internal/bootstrap"
	"inbox_worker/pkg/logger"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type sample struct {
	sender  string
	subject string
	content string
}

var messageSamples = []sample{
	{sender: "Dana", content: "URGENT: the production server is down, customers cannot check out"},
	{sender: "Lee", content: "Hi, what is your pricing for a team of 50? We'd like a demo"},
	{sender: "Sam", content: "The export button is broken since yesterday's update"},
	{sender: "Promo Bot", content: "You are a WINNER! click here to claim your crypto giveaway"},
	{sender: "Kim", content: "What time does support open on weekends?"},
}

var emailSamples = []sample{
	{sender: "Alex Park", subject: "Re: proposal", content: "Thanks for the proposal. Can you send a quote for the annual plan?"},
	{sender: "Jordan Lee", subject: "Automatic reply", content: "I am out of office until Monday with limited access to email."},
	{sender: "Chris Doe", subject: "Re: intro call", content: "Meeting confirmed for Tuesday at 10am, see you on Zoom."},
	{sender: "Taylor Kim", subject: "Re: follow up", content: "We are not interested at this time, please remove me from the list."},
	{sender: "Morgan Yu", subject: "Login problem", content: "I have an issue logging in after the password reset."},
}

var (
	messagePlatforms = []domain.Platform{domain.PlatformWhatsApp, domain.PlatformTelegram, domain.PlatformSlack, domain.PlatformDiscord}
	emailProviders   = []domain.Platform{domain.ProviderGmail, domain.ProviderOutlook, domain.ProviderYahoo, domain.ProviderIMAP, domain.ProviderExchange}
)

func newSimulateCmd() *cobra.Command {
	var (
		count   int
		offline bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:       "simulate messages|emails",
		Short:     "Ingest sample records and run them through the pipeline in-process",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"messages", "emails"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := domain.RecordKindMessage
			if args[0] == "emails" {
				kind = domain.RecordKindEmail
			}
			if count < 1 {
				return fmt.Errorf("--count must be positive")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if offline {
				cfg.LLMProvider = config.ProviderKeywords
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return simulate(ctx, cmd.OutOrStdout(), cfg, kind, count)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of records to ingest")
	cmd.Flags().BoolVar(&offline, "offline", false, "use keyword rules instead of the configured LLM")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up waiting after this long")
	return cmd
}

func simulate(ctx context.Context, w io.Writer, cfg *config.Config, kind domain.RecordKind, count int) error {
	deps, cleanup, err := bootstrap.NewDependencies(ctx, cfg, bootstrap.ModeAll)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := deps.Pool.Start(); err != nil {
		return err
	}

	samples, platforms := messageSamples, messagePlatforms
	if kind == domain.RecordKindEmail {
		samples, platforms = emailSamples, emailProviders
	}

	run := time.Now().Unix()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.WorkerCount)
	for i := 0; i < count; i++ {
		s := samples[i%len(samples)]
		req := &in.IngestRequest{
			Kind:       kind,
			Platform:   platforms[i%len(platforms)],
			ExternalID: fmt.Sprintf("sim-%d-%d", run, i),
			SenderName: s.sender,
			Subject:    s.subject,
			Content:    s.content,
		}
		if kind == domain.RecordKindEmail {
			req.SenderEmail = fmt.Sprintf("sim%d@example.com", i)
		}
		g.Go(func() error {
			_, err := deps.RecordService.Ingest(gctx, req)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	logger.Info("Ingested %d %s records", count, kind)

	if err := waitSettled(ctx, deps.RecordService, kind); err != nil {
		return err
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := deps.Pool.Stop(stopCtx); err != nil {
		return err
	}
	if err := deps.Router.Wait(stopCtx); err != nil {
		return err
	}

	return printSummary(ctx, w, deps, kind)
}

// waitSettled polls until no record of kind is unclassified or in flight.
func waitSettled(ctx context.Context, records in.RecordService, kind domain.RecordKind) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		pending := 0
		for _, st := range []domain.ClassificationStatus{domain.StatusUnclassified, domain.StatusInFlight} {
			page, err := records.List(ctx, &domain.RecordFilter{Kind: kind, Status: st, Limit: 1})
			if err != nil {
				return err
			}
			pending += page.Total
		}
		if pending == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%d records still pending: %w", pending, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printSummary(ctx context.Context, w io.Writer, deps *bootstrap.Dependencies, kind domain.RecordKind) error {
	filter := &domain.RecordFilter{Kind: kind, Limit: domain.MaxRecordLimit}
	byCategory := make(map[string]int)
	failed := 0

	for {
		page, err := deps.RecordService.List(ctx, filter)
		if err != nil {
			return err
		}
		for _, rec := range page.Records {
			if rec.Status == domain.StatusFailed {
				failed++
				continue
			}
			if rec.Classification != nil {
				byCategory[string(rec.Classification.Category)]++
			}
		}
		filter.Offset += len(page.Records)
		if len(page.Records) == 0 || filter.Offset >= page.Total {
			break
		}
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	fmt.Fprintf(w, "%-16s %s\n", "CATEGORY", "COUNT")
	for _, c := range categories {
		fmt.Fprintf(w, "%-16s %d\n", c, byCategory[c])
	}
	if failed > 0 {
		fmt.Fprintf(w, "%-16s %d\n", "(failed)", failed)
	}

	stats := deps.Router.Stats()
	fmt.Fprintf(w, "\nnotifications: %d delivered, %d failed\n", stats.Delivered, stats.Failed)
	return nil
}
