// Package api exposes the admin HTTP surface: newsletter listing, sending
// and analytics, plus subscriber management.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/foliomedia/newsroom/internal/mailer"
	"github.com/foliomedia/newsroom/internal/newsletter"
	"github.com/foliomedia/newsroom/internal/pkg/httputil"
)

// Handlers holds HTTP handlers for the admin API
type Handlers struct {
	store *newsletter.Store
	svc   *newsletter.Service
}

// NewHandlers creates the handler set
func NewHandlers(store *newsletter.Store, svc *newsletter.Service) *Handlers {
	return &Handlers{store: store, svc: svc}
}

// sendRequest is the body of POST /api/newsletters/{id}/send
type sendRequest struct {
	TestEmail    string `json:"test_email,omitempty"`
	ResendFailed bool   `json:"resend_failed,omitempty"`
}

// sendResponse wraps the dispatch outcome in the standard envelope
type sendResponse struct {
	Success         bool      `json:"success"`
	NewsletterID    uuid.UUID `json:"newsletter_id"`
	TotalRecipients int       `json:"total_recipients"`
	SuccessCount    int       `json:"success_count"`
	ErrorCount      int       `json:"error_count"`
	Errors          []string  `json:"errors,omitempty"`
	IsTest          bool      `json:"is_test"`
}

// SendNewsletter triggers a send operation for one newsletter. The request
// body selects the mode: test_email for a preview, resend_failed to retry
// undelivered recipients, neither for a full send.
func (h *Handlers) SendNewsletter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid newsletter id")
		return
	}

	var body sendRequest
	if r.ContentLength > 0 && !httputil.Decode(w, r, &body) {
		return
	}

	result, err := h.svc.Send(r.Context(), newsletter.SendRequest{
		NewsletterID: id,
		TestEmail:    strings.TrimSpace(body.TestEmail),
		ResendFailed: body.ResendFailed,
	})
	if err != nil {
		switch {
		case errors.Is(err, newsletter.ErrNewsletterNotFound):
			httputil.NotFound(w, err.Error())
		case errors.Is(err, newsletter.ErrInvalidTestEmail),
			errors.Is(err, newsletter.ErrNoRecipients),
			errors.Is(err, newsletter.ErrConflictingModes):
			httputil.BadRequest(w, err.Error())
		case errors.Is(err, newsletter.ErrSendInProgress):
			httputil.Conflict(w, err.Error())
		default:
			httputil.InternalError(w, err)
		}
		return
	}

	httputil.OK(w, sendResponse{
		Success:         true,
		NewsletterID:    result.NewsletterID,
		TotalRecipients: result.TotalRecipients,
		SuccessCount:    result.SuccessCount,
		ErrorCount:      result.ErrorCount,
		Errors:          result.Errors,
		IsTest:          result.IsTest,
	})
}

// ListNewsletters returns all newsletters, most recent first. An optional
// ?limit= caps the result.
func (h *Handlers) ListNewsletters(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	newsletters, err := h.store.ListNewsletters(r.Context(), limit)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"newsletters": newsletters,
		"count":       len(newsletters),
	})
}

// GetNewsletter returns one newsletter by id
func (h *Handlers) GetNewsletter(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid newsletter id")
		return
	}

	n, err := h.store.GetNewsletter(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if n == nil {
		httputil.NotFound(w, "newsletter not found")
		return
	}
	httputil.OK(w, n)
}

// GetNewsletterStats returns computed open/click rates for one newsletter
func (h *Handlers) GetNewsletterStats(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.BadRequest(w, "invalid newsletter id")
		return
	}

	n, err := h.store.GetNewsletter(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if n == nil {
		httputil.NotFound(w, "newsletter not found")
		return
	}
	httputil.OK(w, n.Stats())
}

// subscribeRequest is the body of POST /api/subscribers
type subscribeRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// CreateSubscriber adds a subscriber to the list. Re-subscribing a
// previously unsubscribed address reactivates it.
func (h *Handlers) CreateSubscriber(w http.ResponseWriter, r *http.Request) {
	var body subscribeRequest
	if !httputil.Decode(w, r, &body) {
		return
	}

	email := strings.ToLower(strings.TrimSpace(body.Email))
	if !mailer.ValidateAddress(email) {
		httputil.BadRequest(w, "invalid email address")
		return
	}

	sub := &newsletter.Subscriber{Email: email, Name: strings.TrimSpace(body.Name)}
	if err := h.store.CreateSubscriber(r.Context(), sub); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, sub)
}

// HealthCheck reports service liveness
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
