package newsletter

import (
	"context"

	"github.com/google/uuid"

	"github.com/foliomedia/newsroom/internal/pkg/logger"
)

// DeliveryRecorder persists per-recipient delivery bookkeeping. All of its
// failures are logged and swallowed: analytics must never turn a delivered
// message into a reported failure.
type DeliveryRecorder struct {
	store *Store
}

// NewDeliveryRecorder creates a delivery recorder
func NewDeliveryRecorder(store *Store) *DeliveryRecorder {
	return &DeliveryRecorder{store: store}
}

// RecordSent marks the (newsletter, subscriber) pair delivered and appends a
// "sent" event. The delivery row's unique constraint makes the mark
// idempotent; the event is only written by the first marker, so a correct
// resend cycle ends with exactly one "sent" event per subscriber. Test sends
// write an event with no subscriber reference and no delivery row, leaving
// real resend state untouched.
func (r *DeliveryRecorder) RecordSent(ctx context.Context, newsletterID uuid.UUID, sub *Subscriber, messageID string, isTest bool) {
	payload := JSON{"message_id": messageID}

	if isTest {
		payload["test_email"] = sub.Email
		event := &DeliveryEvent{NewsletterID: newsletterID, Kind: EventSent, Payload: payload}
		if err := r.store.RecordEvent(ctx, event); err != nil {
			logger.Warn("record test send event failed", "newsletter_id", newsletterID, "error", err)
		}
		return
	}

	inserted, err := r.store.MarkDelivered(ctx, newsletterID, sub.ID)
	if err != nil {
		logger.Warn("mark delivered failed", "newsletter_id", newsletterID,
			"subscriber_id", sub.ID, "error", err)
		return
	}
	if !inserted {
		// Another invocation already recorded this delivery
		return
	}

	subID := sub.ID
	event := &DeliveryEvent{
		NewsletterID: newsletterID,
		SubscriberID: &subID,
		Kind:         EventSent,
		Payload:      payload,
	}
	if err := r.store.RecordEvent(ctx, event); err != nil {
		logger.Warn("record sent event failed", "newsletter_id", newsletterID,
			"subscriber_id", sub.ID, "error", err)
	}
}

// Finalize updates the newsletter after a completed full send. Resends and
// test sends never reach here; a resend repairs deliveries, it is not a new
// send. Failure is non-fatal bookkeeping: the dispatch result stands as
// computed.
func (r *DeliveryRecorder) Finalize(ctx context.Context, newsletterID uuid.UUID, successCount int) {
	if err := r.store.MarkNewsletterSent(ctx, newsletterID, successCount); err != nil {
		logger.Warn("newsletter status update failed", "newsletter_id", newsletterID, "error", err)
	}
}
