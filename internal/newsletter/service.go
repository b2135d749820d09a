package newsletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foliomedia/newsroom/internal/mailer"
	"github.com/foliomedia/newsroom/internal/pkg/distlock"
	"github.com/foliomedia/newsroom/internal/pkg/logger"
)

// Request validation errors. These fail fast with no partial side effects.
var (
	ErrNewsletterNotFound = errors.New("newsletter not found")
	ErrInvalidTestEmail   = errors.New("invalid test email address")
	ErrSendInProgress     = errors.New("a send for this newsletter is already in progress")
)

// LockFactory builds a distributed lock for one newsletter send. Full and
// resend dispatches hold the lock for their whole run so two concurrent
// invocations can never both compute a "needs sending" set.
type LockFactory func(newsletterID uuid.UUID) distlock.DistLock

// Service orchestrates a complete send operation
type Service struct {
	store       *Store
	resolver    *Resolver
	transformer *Transformer
	dispatcher  *Dispatcher
	recorder    *DeliveryRecorder
	lockFor     LockFactory
}

// NewService wires the send pipeline together
func NewService(store *Store, resolver *Resolver, transformer *Transformer,
	dispatcher *Dispatcher, recorder *DeliveryRecorder, lockFor LockFactory) *Service {
	return &Service{
		store:       store,
		resolver:    resolver,
		transformer: transformer,
		dispatcher:  dispatcher,
		recorder:    recorder,
		lockFor:     lockFor,
	}
}

// Send runs one send operation end to end: validate, lock, resolve
// recipients, transform content, persist tracking links, dispatch in batches
// and finalize. Once dispatching starts the run goes to completion; there is
// no mid-send cancellation.
func (s *Service) Send(ctx context.Context, req SendRequest) (*DispatchResult, error) {
	n, err := s.store.GetNewsletter(ctx, req.NewsletterID)
	if err != nil {
		return nil, fmt.Errorf("load newsletter: %w", err)
	}
	if n == nil {
		return nil, ErrNewsletterNotFound
	}
	if req.IsTest() && !mailer.ValidateAddress(req.TestEmail) {
		return nil, ErrInvalidTestEmail
	}

	// Test sends touch no shared delivery state and skip the lock
	if !req.IsTest() {
		lock := s.lockFor(req.NewsletterID)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire send lock: %w", err)
		}
		if !acquired {
			return nil, ErrSendInProgress
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}

	recipients, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.GetTrackingLinks(ctx, req.NewsletterID)
	if err != nil {
		return nil, fmt.Errorf("load tracking links: %w", err)
	}

	tpl, newLinks := s.transformer.Transform(n, existing)

	// Links are confirmed persisted before any message carries their tokens
	if err := s.store.InsertTrackingLinks(ctx, newLinks); err != nil {
		return nil, fmt.Errorf("persist tracking links: %w", err)
	}

	started := time.Now()
	result, err := s.dispatcher.Dispatch(ctx, tpl, recipients, req.IsTest())
	if err != nil {
		return nil, err
	}

	logger.Info("dispatch complete",
		"newsletter_id", req.NewsletterID,
		"total", result.TotalRecipients,
		"sent", result.SuccessCount,
		"failed", result.ErrorCount,
		"test", result.IsTest,
		"elapsed", time.Since(started).Round(time.Millisecond))

	// Only a full normal send flips the newsletter to "sent". Test sends are
	// previews; resends are repair operations on an already-sent issue.
	if !req.IsTest() && !req.ResendFailed {
		s.recorder.Finalize(ctx, req.NewsletterID, result.SuccessCount)
	}

	return result, nil
}
