package newsletter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for newsletter entities
type Store struct {
	db *sql.DB
}

// NewStore creates a new newsletter store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetNewsletter retrieves a newsletter by ID. Returns (nil, nil) when not found.
func (s *Store) GetNewsletter(ctx context.Context, id uuid.UUID) (*Newsletter, error) {
	query := `SELECT id, subject, html_body, plain_body, status, sent_at, recipient_count,
		open_count, click_count, created_at, updated_at
		FROM newsletters WHERE id = $1`

	n := &Newsletter{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&n.ID, &n.Subject, &n.HTMLBody, &n.PlainBody, &n.Status, &n.SentAt,
		&n.RecipientCount, &n.OpenCount, &n.ClickCount, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}

// ListNewsletters retrieves newsletters, most recent first
func (s *Store) ListNewsletters(ctx context.Context, limit int) ([]*Newsletter, error) {
	query := `SELECT id, subject, status, sent_at, recipient_count, open_count, click_count, created_at
		FROM newsletters ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var newsletters []*Newsletter
	for rows.Next() {
		n := &Newsletter{}
		err := rows.Scan(&n.ID, &n.Subject, &n.Status, &n.SentAt, &n.RecipientCount,
			&n.OpenCount, &n.ClickCount, &n.CreatedAt)
		if err != nil {
			return nil, err
		}
		newsletters = append(newsletters, n)
	}
	return newsletters, rows.Err()
}

// MarkNewsletterSent finalizes a newsletter after a full send: status becomes
// "sent", the sent timestamp is stamped and the recipient count recorded.
func (s *Store) MarkNewsletterSent(ctx context.Context, id uuid.UUID, recipientCount int) error {
	query := `UPDATE newsletters SET status = $1, sent_at = NOW(), recipient_count = $2,
		updated_at = NOW() WHERE id = $3`
	_, err := s.db.ExecContext(ctx, query, StatusSent, recipientCount, id)
	return err
}

// IncrementNewsletterCounter bumps an analytics counter for a newsletter
func (s *Store) IncrementNewsletterCounter(ctx context.Context, id uuid.UUID, kind string) error {
	var query string
	switch kind {
	case EventOpened:
		query = `UPDATE newsletters SET open_count = open_count + 1, updated_at = NOW() WHERE id = $1`
	case EventClicked:
		query = `UPDATE newsletters SET click_count = click_count + 1, updated_at = NOW() WHERE id = $1`
	default:
		return nil
	}
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// CreateSubscriber adds a subscriber. Re-subscribing an existing address
// reactivates it and clears the unsubscribed timestamp.
func (s *Store) CreateSubscriber(ctx context.Context, sub *Subscriber) error {
	sub.ID = uuid.New()
	sub.Email = strings.ToLower(strings.TrimSpace(sub.Email))
	sub.Active = true
	sub.SubscribedAt = time.Now()

	query := `INSERT INTO subscribers (id, email, name, active, subscribed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name, active = true,
		unsubscribed_at = NULL, subscribed_at = NOW()`

	_, err := s.db.ExecContext(ctx, query, sub.ID, sub.Email, sub.Name, sub.Active, sub.SubscribedAt)
	return err
}

// GetSubscriber retrieves a subscriber by ID. Returns (nil, nil) when not found.
func (s *Store) GetSubscriber(ctx context.Context, id uuid.UUID) (*Subscriber, error) {
	query := `SELECT id, email, name, active, subscribed_at, unsubscribed_at
		FROM subscribers WHERE id = $1`

	sub := &Subscriber{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sub.ID, &sub.Email, &sub.Name, &sub.Active, &sub.SubscribedAt, &sub.UnsubscribedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

// GetActiveSubscribers retrieves all active subscribers in subscription order
func (s *Store) GetActiveSubscribers(ctx context.Context) ([]*Subscriber, error) {
	query := `SELECT id, email, name, active, subscribed_at
		FROM subscribers WHERE active = true ORDER BY subscribed_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		sub := &Subscriber{}
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.Name, &sub.Active, &sub.SubscribedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetPendingSubscribers retrieves active subscribers without a delivery record
// for the given newsletter. This is the resend-to-failed recipient set: the
// newsletter_deliveries table is the authoritative delivery state, so the set
// difference happens in SQL rather than by scanning the event history.
func (s *Store) GetPendingSubscribers(ctx context.Context, newsletterID uuid.UUID) ([]*Subscriber, error) {
	query := `SELECT s.id, s.email, s.name, s.active, s.subscribed_at
		FROM subscribers s
		WHERE s.active = true AND NOT EXISTS (
			SELECT 1 FROM newsletter_deliveries d
			WHERE d.newsletter_id = $1 AND d.subscriber_id = s.id
		)
		ORDER BY s.subscribed_at`

	rows, err := s.db.QueryContext(ctx, query, newsletterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		sub := &Subscriber{}
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.Name, &sub.Active, &sub.SubscribedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeactivateSubscriber flags a subscriber inactive and stamps the unsubscribe
// time. Returns (false, nil) when the address is unknown.
func (s *Store) DeactivateSubscriber(ctx context.Context, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET active = false, unsubscribed_at = NOW() WHERE email = $1 AND active = true`,
		email)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetSubscriberByEmail retrieves a subscriber by address. Returns (nil, nil)
// when not found.
func (s *Store) GetSubscriberByEmail(ctx context.Context, email string) (*Subscriber, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	query := `SELECT id, email, name, active, subscribed_at, unsubscribed_at
		FROM subscribers WHERE email = $1`

	sub := &Subscriber{}
	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&sub.ID, &sub.Email, &sub.Name, &sub.Active, &sub.SubscribedAt, &sub.UnsubscribedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

// RecordEvent appends a delivery event. Events are never updated or deleted.
func (s *Store) RecordEvent(ctx context.Context, event *DeliveryEvent) error {
	event.ID = uuid.New()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `INSERT INTO delivery_events (id, newsletter_id, subscriber_id, kind, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	// Footer unsubscribes may arrive without a newsletter reference
	var newsletterID *uuid.UUID
	if event.NewsletterID != uuid.Nil {
		newsletterID = &event.NewsletterID
	}

	_, err := s.db.ExecContext(ctx, query, event.ID, newsletterID, event.SubscriberID,
		event.Kind, event.Payload, event.CreatedAt)
	return err
}

// MarkDelivered records that a newsletter reached a subscriber. The unique
// constraint on (newsletter_id, subscriber_id) makes this the idempotency
// anchor for resends: the first writer wins and the return value reports
// whether this call inserted the row.
func (s *Store) MarkDelivered(ctx context.Context, newsletterID, subscriberID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO newsletter_deliveries (id, newsletter_id, subscriber_id, delivered_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (newsletter_id, subscriber_id) DO NOTHING`,
		uuid.New(), newsletterID, subscriberID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertTrackingLinks persists tracking links in a single transaction. The
// dispatcher must not run until this has committed; a message carrying a token
// without a row behind it would dead-end at the redirect endpoint.
func (s *Store) InsertTrackingLinks(ctx context.Context, links []*TrackingLink) error {
	if len(links) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tracking_links (id, newsletter_id, original_url, token, created_at)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, link := range links {
		link.ID = uuid.New()
		link.CreatedAt = time.Now()
		if _, err := stmt.ExecContext(ctx, link.ID, link.NewsletterID, link.OriginalURL,
			link.Token, link.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetTrackingLinks retrieves all tracking links for a newsletter
func (s *Store) GetTrackingLinks(ctx context.Context, newsletterID uuid.UUID) ([]*TrackingLink, error) {
	query := `SELECT id, newsletter_id, original_url, token, created_at
		FROM tracking_links WHERE newsletter_id = $1 ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, newsletterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*TrackingLink
	for rows.Next() {
		link := &TrackingLink{}
		if err := rows.Scan(&link.ID, &link.NewsletterID, &link.OriginalURL,
			&link.Token, &link.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// GetTrackingLinkByToken resolves a tracking token. Returns (nil, nil) when
// the token is unknown.
func (s *Store) GetTrackingLinkByToken(ctx context.Context, token string) (*TrackingLink, error) {
	query := `SELECT id, newsletter_id, original_url, token, created_at
		FROM tracking_links WHERE token = $1`

	link := &TrackingLink{}
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&link.ID, &link.NewsletterID, &link.OriginalURL, &link.Token, &link.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return link, err
}
