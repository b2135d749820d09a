// Package tracking serves the open-pixel, click-redirect and unsubscribe
// endpoints referenced by rewritten newsletter HTML.
package tracking

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/foliomedia/newsroom/internal/newsletter"
	"github.com/foliomedia/newsroom/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

type Handler struct {
	store           *newsletter.Store
	defaultRedirect string
}

func NewHandler(store *newsletter.Store, defaultRedirect string) *Handler {
	if defaultRedirect == "" {
		defaultRedirect = "/"
	}
	return &Handler{store: store, defaultRedirect: defaultRedirect}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/t/o", h.HandleOpen)
	r.Get("/t/c", h.HandleClick)
	r.Get("/t/u", h.HandleUnsubscribe)
	r.Post("/t/u", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records an open event and serves the pixel. The pixel is
// always served, whatever happens on the recording side: a broken image
// in a subscriber's inbox is worse than a lost event.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	nid, err := uuid.Parse(r.URL.Query().Get("nid"))
	if err != nil {
		h.servePixel(w)
		return
	}

	event := &newsletter.DeliveryEvent{
		NewsletterID: nid,
		Kind:         newsletter.EventOpened,
		Payload: newsletter.JSON{
			"ip":         realIP(r),
			"user_agent": r.UserAgent(),
		},
	}
	if sid, err := uuid.Parse(r.URL.Query().Get("sid")); err == nil {
		event.SubscriberID = &sid
	}

	if err := h.store.RecordEvent(r.Context(), event); err != nil {
		logger.Warn("open event not recorded", "newsletter_id", nid, "error", err)
	}
	if err := h.store.IncrementNewsletterCounter(r.Context(), nid, newsletter.EventOpened); err != nil {
		logger.Warn("open counter not updated", "newsletter_id", nid, "error", err)
	}

	h.servePixel(w)
}

// HandleClick resolves the token to its original URL, records a click
// event and redirects. Unknown tokens redirect to the default target so
// stale links in forwarded emails never dead-end.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Redirect(w, r, h.defaultRedirect, http.StatusTemporaryRedirect)
		return
	}

	link, err := h.store.GetTrackingLinkByToken(r.Context(), token)
	if err != nil {
		logger.Error("tracking link lookup failed", "error", err)
		http.Redirect(w, r, h.defaultRedirect, http.StatusTemporaryRedirect)
		return
	}
	if link == nil {
		http.Redirect(w, r, h.defaultRedirect, http.StatusTemporaryRedirect)
		return
	}

	event := &newsletter.DeliveryEvent{
		NewsletterID: link.NewsletterID,
		Kind:         newsletter.EventClicked,
		Payload: newsletter.JSON{
			"url":        link.OriginalURL,
			"ip":         realIP(r),
			"user_agent": r.UserAgent(),
		},
	}
	if sid, err := uuid.Parse(r.URL.Query().Get("sid")); err == nil {
		event.SubscriberID = &sid
	}

	if err := h.store.RecordEvent(r.Context(), event); err != nil {
		logger.Warn("click event not recorded", "newsletter_id", link.NewsletterID, "error", err)
	}
	if err := h.store.IncrementNewsletterCounter(r.Context(), link.NewsletterID, newsletter.EventClicked); err != nil {
		logger.Warn("click counter not updated", "newsletter_id", link.NewsletterID, "error", err)
	}

	http.Redirect(w, r, link.OriginalURL, http.StatusTemporaryRedirect)
}

// HandleUnsubscribe deactivates the subscriber and shows a confirmation
// page. Accepts POST for RFC 8058 one-click unsubscribe as well as GET
// from the footer link.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" && r.Method == http.MethodPost {
		email = strings.TrimSpace(r.PostFormValue("email"))
	}
	if email == "" {
		http.Error(w, "missing email", http.StatusBadRequest)
		return
	}

	deactivated, err := h.store.DeactivateSubscriber(r.Context(), email)
	if err != nil {
		logger.Error("unsubscribe failed", "email", email, "error", err)
		http.Error(w, "something went wrong, please try again", http.StatusInternalServerError)
		return
	}

	if deactivated {
		sub, err := h.store.GetSubscriberByEmail(r.Context(), email)
		if err == nil && sub != nil {
			event := &newsletter.DeliveryEvent{
				SubscriberID: &sub.ID,
				Kind:         newsletter.EventUnsubscribed,
				Payload:      newsletter.JSON{"ip": realIP(r)},
			}
			if nid, err := uuid.Parse(r.URL.Query().Get("nid")); err == nil {
				event.NewsletterID = nid
			}
			if err := h.store.RecordEvent(r.Context(), event); err != nil {
				logger.Warn("unsubscribe event not recorded", "error", err)
			}
		}
		logger.Info("subscriber unsubscribed", "email", email)
	}

	// Same page whether or not the address was subscribed
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive our newsletter.</p>
	</body></html>`))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","time":"` + time.Now().UTC().Format(time.RFC3339) + `"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
