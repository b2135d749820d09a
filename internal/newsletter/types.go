package newsletter

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Newsletter status constants
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusSent      = "sent"
)

// Delivery event kinds
const (
	EventSent         = "sent"
	EventOpened       = "opened"
	EventClicked      = "clicked"
	EventUnsubscribed = "unsubscribed"
)

// JSON is a helper type for JSONB payload columns
type JSON map[string]interface{}

func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, j)
}

// Newsletter represents an authored issue. Immutable once sent except for
// the analytics counters, which the tracking endpoints keep incrementing.
type Newsletter struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Subject        string     `json:"subject" db:"subject"`
	HTMLBody       string     `json:"html_body" db:"html_body"`
	PlainBody      string     `json:"plain_body" db:"plain_body"`
	Status         string     `json:"status" db:"status"`
	SentAt         *time.Time `json:"sent_at" db:"sent_at"`
	RecipientCount int        `json:"recipient_count" db:"recipient_count"`
	OpenCount      int        `json:"open_count" db:"open_count"`
	ClickCount     int        `json:"click_count" db:"click_count"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Subscriber represents a mailing list member
type Subscriber struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Email          string     `json:"email" db:"email"`
	Name           string     `json:"name" db:"name"`
	Active         bool       `json:"active" db:"active"`
	SubscribedAt   time.Time  `json:"subscribed_at" db:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at" db:"unsubscribed_at"`
}

// DeliveryEvent is an append-only analytics record. SubscriberID is nil for
// events that predate a real subscriber (test sends).
type DeliveryEvent struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	NewsletterID uuid.UUID  `json:"newsletter_id" db:"newsletter_id"`
	SubscriberID *uuid.UUID `json:"subscriber_id" db:"subscriber_id"`
	Kind         string     `json:"kind" db:"kind"`
	Payload      JSON       `json:"payload" db:"payload"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// TrackingLink maps an opaque token to the original outbound URL for one
// newsletter. Rows are written once during content transformation and are
// read-only afterwards.
type TrackingLink struct {
	ID           uuid.UUID `json:"id" db:"id"`
	NewsletterID uuid.UUID `json:"newsletter_id" db:"newsletter_id"`
	OriginalURL  string    `json:"original_url" db:"original_url"`
	Token        string    `json:"token" db:"token"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// DispatchResult aggregates the outcome of one send operation
type DispatchResult struct {
	NewsletterID    uuid.UUID `json:"newsletter_id"`
	TotalRecipients int       `json:"total_recipients"`
	SuccessCount    int       `json:"success_count"`
	ErrorCount      int       `json:"error_count"`
	Errors          []string  `json:"errors,omitempty"`
	IsTest          bool      `json:"is_test"`
}

// NewsletterStats provides computed analytics rates for one newsletter
type NewsletterStats struct {
	RecipientCount int     `json:"recipient_count"`
	OpenCount      int     `json:"open_count"`
	ClickCount     int     `json:"click_count"`
	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
}

// Stats calculates analytics rates from the raw counters
func (n *Newsletter) Stats() NewsletterStats {
	stats := NewsletterStats{
		RecipientCount: n.RecipientCount,
		OpenCount:      n.OpenCount,
		ClickCount:     n.ClickCount,
	}
	if n.RecipientCount > 0 {
		stats.OpenRate = float64(n.OpenCount) / float64(n.RecipientCount) * 100
		stats.ClickRate = float64(n.ClickCount) / float64(n.RecipientCount) * 100
	}
	return stats
}
