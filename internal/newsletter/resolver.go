package newsletter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNoRecipients is returned when a send request resolves to an empty
// recipient set. No sends happen and no newsletter state changes.
var ErrNoRecipients = errors.New("no recipients to send to")

// ErrConflictingModes rejects requests that set both test_email and
// resend_failed.
var ErrConflictingModes = errors.New("test_email and resend_failed are mutually exclusive")

// SendRequest selects the recipient mode for one send operation. TestEmail
// and ResendFailed are mutually exclusive; both empty means a normal full send.
type SendRequest struct {
	NewsletterID uuid.UUID `json:"newsletter_id"`
	TestEmail    string    `json:"test_email,omitempty"`
	ResendFailed bool      `json:"resend_failed,omitempty"`
}

// IsTest reports whether the request targets a single ad-hoc address
func (r SendRequest) IsTest() bool { return r.TestEmail != "" }

// Resolver determines the target recipient set for a send request
type Resolver struct {
	store *Store
}

// NewResolver creates a recipient resolver
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the recipients for the request. Read-only: resolving never
// mutates subscribers or deliveries.
//
// Test mode wraps the ad-hoc address in a synthetic subscriber with a fresh
// ID so the pixel URL stays well formed; nothing about it is persisted.
func (r *Resolver) Resolve(ctx context.Context, req SendRequest) ([]*Subscriber, error) {
	if req.TestEmail != "" && req.ResendFailed {
		return nil, ErrConflictingModes
	}

	if req.TestEmail != "" {
		return []*Subscriber{{
			ID:     uuid.New(),
			Email:  req.TestEmail,
			Name:   "Test Recipient",
			Active: true,
		}}, nil
	}

	var (
		subs []*Subscriber
		err  error
	)
	if req.ResendFailed {
		subs, err = r.store.GetPendingSubscribers(ctx, req.NewsletterID)
	} else {
		subs, err = r.store.GetActiveSubscribers(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	if len(subs) == 0 {
		return nil, ErrNoRecipients
	}
	return subs, nil
}
