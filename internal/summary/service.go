package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"reportline/internal/domain"
	"reportline/internal/logger"
	"reportline/internal/repo"
)

// ErrEmptySummary is returned when the generator produced nothing usable.
var ErrEmptySummary = errors.New("summary generator returned no content")

// Source is the read side the service gathers report data from.
type Source interface {
	ListStores(ctx context.Context) ([]domain.Store, error)
	ListReports(ctx context.Context, f repo.ReportFilters) ([]domain.Report, error)
	GetTemplate(ctx context.Context, id string) (domain.Template, error)
}

// Filter narrows the reports a summary covers. Empty StoreIDs means every
// store; zero times leave that side of the range open.
type Filter struct {
	StoreIDs []string
	From     time.Time
	To       time.Time
}

type Service struct {
	Source    Source
	Generator Generator
	Timeout   time.Duration
	Log       *logger.Logger
}

// Summarize gathers stores and reports, then asks the generator for text. It
// only reads; a slow or failing generator cannot affect stored reports.
func (s Service) Summarize(ctx context.Context, mode Mode, messages []Message, f Filter) (Message, error) {
	if s.Generator == nil {
		return Message{}, errors.New("summary generator not configured")
	}
	if mode == "" {
		mode = ModeSummary
	}
	if !mode.Valid() {
		return Message{}, fmt.Errorf("%w: unknown summary mode %q", domain.ErrInvalidInput, mode)
	}
	payload, err := s.Gather(ctx, f)
	if err != nil {
		return Message{}, err
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	start := time.Now()
	msg, err := s.Generator.Generate(ctx, Request{Mode: mode, Messages: messages, Payload: payload})
	if err != nil {
		s.log().Warn("summary generation failed", "mode", mode, "error", err)
		return Message{}, err
	}
	if strings.TrimSpace(msg.Content) == "" {
		s.log().Warn("summary generation returned no content", "mode", mode)
		return Message{}, ErrEmptySummary
	}
	if msg.Role == "" {
		msg.Role = "assistant"
	}
	s.log().Info("summary generated", "mode", mode, "reports", len(payload.Reports), "elapsed", time.Since(start))
	return msg, nil
}

func (s Service) log() *logger.Logger {
	if s.Log != nil {
		return s.Log
	}
	return logger.Nop()
}

// Gather loads the filtered stores and reports concurrently and resolves the
// templates they reference.
func (s Service) Gather(ctx context.Context, f Filter) (Payload, error) {
	var (
		stores  []domain.Store
		reports []domain.Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stores, err = s.Source.ListStores(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		reports, err = s.Source.ListReports(gctx, repo.ReportFilters{IncludeAnswers: true})
		return err
	})
	if err := g.Wait(); err != nil {
		return Payload{}, fmt.Errorf("load report data: %w", err)
	}
	stores, reports = f.apply(stores, reports)

	templates := map[string]domain.Template{}
	var mu sync.Mutex
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(4)
	seen := map[string]bool{}
	for _, r := range reports {
		if seen[r.TemplateID] {
			continue
		}
		seen[r.TemplateID] = true
		id := r.TemplateID
		g.Go(func() error {
			t, err := s.Source.GetTemplate(gctx, id)
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			templates[id] = t
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Payload{}, fmt.Errorf("load templates: %w", err)
	}
	return BuildPayload(stores, reports, templates), nil
}

func (f Filter) apply(stores []domain.Store, reports []domain.Report) ([]domain.Store, []domain.Report) {
	if len(f.StoreIDs) > 0 {
		keep := make(map[string]bool, len(f.StoreIDs))
		for _, id := range f.StoreIDs {
			keep[id] = true
		}
		var fs []domain.Store
		for _, st := range stores {
			if keep[st.ID] {
				fs = append(fs, st)
			}
		}
		stores = fs
		var fr []domain.Report
		for _, r := range reports {
			if keep[r.StoreID] {
				fr = append(fr, r)
			}
		}
		reports = fr
	}
	if f.From.IsZero() && f.To.IsZero() {
		return stores, reports
	}
	var fr []domain.Report
	for _, r := range reports {
		if r.SubmittedAt == nil {
			continue
		}
		at, err := time.Parse(time.RFC3339, *r.SubmittedAt)
		if err != nil {
			continue
		}
		if !f.From.IsZero() && at.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && at.After(f.To) {
			continue
		}
		fr = append(fr, r)
	}
	return stores, fr
}
