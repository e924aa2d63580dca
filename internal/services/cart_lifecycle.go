package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/hanko-field/cart/internal/domain"
	"github.com/hanko-field/cart/internal/platform/pagination"
	"github.com/hanko-field/cart/internal/repositories"
)

var lifecycleTracer = otel.Tracer("github.com/hanko-field/cart/internal/services")

const (
	defaultAbandonAfter   = 24 * time.Hour
	defaultLifecycleBatch = 100
)

// CartLifecycleDeps wires the lifecycle manager.
type CartLifecycleDeps struct {
	Repository   repositories.CartRepository
	Cache        CartCache
	Clock        func() time.Time
	AbandonAfter time.Duration
	BatchSize    int
	Logger       func(context.Context, string, map[string]any)
	// Observer receives the number of carts affected per stage (abandoned, expired, conflict).
	Observer func(stage string, count int)
}

type cartLifecycleService struct {
	repo         repositories.CartRepository
	cache        CartCache
	now          func() time.Time
	abandonAfter time.Duration
	batch        int
	logger       func(context.Context, string, map[string]any)
	observe      func(string, int)
}

// NewCartLifecycleService constructs the lifecycle manager.
func NewCartLifecycleService(deps CartLifecycleDeps) (CartLifecycleService, error) {
	if deps.Repository == nil {
		return nil, errors.New("cart lifecycle: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	abandonAfter := deps.AbandonAfter
	if abandonAfter <= 0 {
		abandonAfter = defaultAbandonAfter
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultLifecycleBatch
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	observe := deps.Observer
	if observe == nil {
		observe = func(string, int) {}
	}
	return &cartLifecycleService{
		repo:         deps.Repository,
		cache:        deps.Cache,
		now:          func() time.Time { return clock().UTC() },
		abandonAfter: abandonAfter,
		batch:        batch,
		logger:       logger,
		observe:      observe,
	}, nil
}

// MarkAbandoned moves idle non-empty active carts to abandoned. Each candidate is re-read and
// saved at the revision it was read with, so a concurrent owner mutation wins.
func (s *cartLifecycleService) MarkAbandoned(ctx context.Context) (report LifecycleReport, err error) {
	ctx, span := lifecycleTracer.Start(ctx, "cart.lifecycle.mark_abandoned", trace.WithSpanKind(trace.SpanKindInternal))
	defer func() { endSpan(span, err, attribute.Int("cart.abandoned", report.Abandoned), attribute.Int("cart.conflicts", report.Conflicts)) }()

	now := s.now()
	report.StartedAt = now
	cutoff := now.Add(-s.abandonAfter)
	filter := repositories.CartListFilter{
		Statuses:           []domain.CartStatus{domain.CartStatusActive},
		LastActivityBefore: &cutoff,
		PageSize:           s.batch,
	}

	err = s.scan(ctx, filter, func(candidate domain.Cart) error {
		report.Scanned++
		if len(candidate.Items) == 0 {
			report.Skipped++
			return nil
		}

		current, err := s.repo.FindByID(ctx, candidate.ID)
		if err != nil {
			if isRepoNotFound(err) {
				report.Skipped++
				return nil
			}
			return err
		}
		agg := LoadCartAggregate(current, AggregateOptions{Clock: s.now})
		if !agg.MarkAbandoned(now, s.abandonAfter) {
			report.Skipped++
			return nil
		}
		if _, err := s.repo.Save(ctx, agg.Cart(), current.Revision); err != nil {
			if isRepoConflict(err) {
				report.Conflicts++
				s.logger(ctx, "cart.lifecycle.abandon_conflict", map[string]any{"cartID": current.ID})
				return nil
			}
			return err
		}
		report.Abandoned++
		s.invalidate(ctx, current.UserID)
		return nil
	})
	report.Duration = s.now().Sub(now)
	s.observe("abandoned", report.Abandoned)
	s.observe("conflict", report.Conflicts)
	s.logger(ctx, "cart.lifecycle.mark_abandoned", map[string]any{
		"scanned":   report.Scanned,
		"abandoned": report.Abandoned,
		"skipped":   report.Skipped,
		"conflicts": report.Conflicts,
	})
	if err != nil {
		return report, fmt.Errorf("cart lifecycle: mark abandoned: %w", err)
	}
	return report, nil
}

// FindAbandoned lists abandoned carts whose last activity is at least Days old.
func (s *cartLifecycleService) FindAbandoned(ctx context.Context, filter AbandonedCartFilter) (domain.CursorPage[Cart], error) {
	if filter.Days <= 0 {
		return domain.CursorPage[Cart]{}, validationError(CodeInvalidInput, "days", "days must be a positive integer")
	}
	cutoff := s.now().Add(-time.Duration(filter.Days) * 24 * time.Hour)
	listFilter := repositories.CartListFilter{
		Statuses:           []domain.CartStatus{domain.CartStatusAbandoned},
		LastActivityBefore: &cutoff,
		PageSize:           pagination.Normalise(filter.PageSize),
		PageToken:          filter.PageToken,
	}
	page, err := s.repo.List(ctx, listFilter)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Cart]{}, validationError(CodeInvalidInput, "pageToken", "page token is invalid")
		}
		return domain.CursorPage[Cart]{}, &CartError{Kind: ErrCartUnavailable, Code: CodeStoreUnavailable, Message: "listing abandoned carts failed", Err: err}
	}
	return page, nil
}

// CleanupExpired hard-deletes carts past their TTL that never converted. It returns the number
// of carts removed.
func (s *cartLifecycleService) CleanupExpired(ctx context.Context) (deleted int, err error) {
	ctx, span := lifecycleTracer.Start(ctx, "cart.lifecycle.cleanup_expired", trace.WithSpanKind(trace.SpanKindInternal))
	defer func() { endSpan(span, err, attribute.Int("cart.deleted", deleted)) }()

	now := s.now()
	filter := repositories.CartListFilter{
		Statuses:      []domain.CartStatus{domain.CartStatusActive, domain.CartStatusAbandoned, domain.CartStatusExpired},
		ExpiresBefore: &now,
		PageSize:      s.batch,
	}

	err = s.scan(ctx, filter, func(candidate domain.Cart) error {
		current, err := s.repo.FindByID(ctx, candidate.ID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil
			}
			return err
		}
		if current.Status == domain.CartStatusConverted || current.ExpiresAt == nil || !current.ExpiresAt.Before(now) {
			return nil
		}
		if err := s.repo.Delete(ctx, current.ID); err != nil {
			if isRepoNotFound(err) {
				return nil
			}
			return err
		}
		deleted++
		s.invalidate(ctx, current.UserID)
		return nil
	})
	s.observe("expired", deleted)
	s.logger(ctx, "cart.lifecycle.cleanup_expired", map[string]any{"deleted": deleted})
	if err != nil {
		return deleted, fmt.Errorf("cart lifecycle: cleanup expired: %w", err)
	}
	return deleted, nil
}

func (s *cartLifecycleService) scan(ctx context.Context, filter repositories.CartListFilter, visit func(domain.Cart) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.repo.List(ctx, filter)
		if err != nil {
			return err
		}
		for _, cart := range page.Items {
			if err := visit(cart); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		filter.PageToken = page.NextPageToken
	}
}

func (s *cartLifecycleService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger(ctx, "cart.cache_invalidate_failed", map[string]any{"userID": userID, "error": err.Error()})
	}
}

func endSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
