package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/foliomedia/newsroom/internal/mailer"
	"github.com/foliomedia/newsroom/internal/newsletter"
	"github.com/foliomedia/newsroom/internal/pkg/distlock"
)

type sendFunc func(ctx context.Context, msg *mailer.Message) (string, error)

func (f sendFunc) Send(ctx context.Context, msg *mailer.Message) (string, error) {
	return f(ctx, msg)
}

type okLock struct{}

func (okLock) Acquire(ctx context.Context) (bool, error) { return true, nil }
func (okLock) Release(ctx context.Context) error         { return nil }

func newTestServer(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	store := newsletter.NewStore(db)
	transformer := newsletter.NewTransformer("https://track.foliomedia.io")
	recorder := newsletter.NewDeliveryRecorder(store)
	dispatcher := newsletter.NewDispatcher(sendFunc(func(ctx context.Context, msg *mailer.Message) (string, error) {
		return "msg-1", nil
	}), recorder, transformer, "news@foliomedia.io", "Folio Media", 10,
		newsletter.FixedDelayPacer{}, time.Second)
	svc := newsletter.NewService(store, newsletter.NewResolver(store), transformer,
		dispatcher, recorder, func(uuid.UUID) distlock.DistLock { return okLock{} })

	return SetupRoutes(NewHandlers(store, svc)), mock
}

func TestGetNewsletterInvalidID(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/newsletters/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	var body map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&body)
	if body["success"] != false {
		t.Errorf("error envelope missing success=false: %v", body)
	}
}

func TestGetNewsletterNotFound(t *testing.T) {
	h, mock := newTestServer(t)
	id := uuid.New()

	mock.ExpectQuery("FROM newsletters WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodGet, "/api/newsletters/"+id.String(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetNewsletterStats(t *testing.T) {
	h, mock := newTestServer(t)
	id := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "subject", "html_body", "plain_body", "status",
		"sent_at", "recipient_count", "open_count", "click_count", "created_at", "updated_at"}).
		AddRow(id, "Issue", "<p>x</p>", "x", newsletter.StatusSent, now, 200, 80, 20, now, now)
	mock.ExpectQuery("FROM newsletters WHERE id").WithArgs(id).WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/api/newsletters/"+id.String()+"/stats", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var stats newsletter.NewsletterStats
	json.NewDecoder(rec.Body).Decode(&stats)
	if stats.OpenRate != 40 || stats.ClickRate != 10 {
		t.Errorf("rates = %.1f/%.1f, want 40/10", stats.OpenRate, stats.ClickRate)
	}
}

func TestListNewsletters(t *testing.T) {
	h, mock := newTestServer(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "subject", "status", "sent_at",
		"recipient_count", "open_count", "click_count", "created_at"}).
		AddRow(uuid.New(), "Issue 2", newsletter.StatusDraft, nil, 0, 0, 0, now).
		AddRow(uuid.New(), "Issue 1", newsletter.StatusSent, now, 100, 40, 10, now)
	mock.ExpectQuery("FROM newsletters ORDER BY created_at DESC").WillReturnRows(rows)

	req := httptest.NewRequest(http.MethodGet, "/api/newsletters", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Count != 2 {
		t.Errorf("count = %d, want 2", body.Count)
	}
}

func TestCreateSubscriber(t *testing.T) {
	h, mock := newTestServer(t)

	mock.ExpectExec("INSERT INTO subscribers").
		WithArgs(sqlmock.AnyArg(), "reader@example.com", "Reader", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/subscribers",
		strings.NewReader(`{"email":"Reader@Example.com","name":"Reader"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateSubscriberInvalidEmail(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/subscribers",
		strings.NewReader(`{"email":"not-an-address"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSendNewsletterNotFound(t *testing.T) {
	h, mock := newTestServer(t)
	id := uuid.New()

	mock.ExpectQuery("FROM newsletters WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(http.MethodPost, "/api/newsletters/"+id.String()+"/send", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSendNewsletterConflictingModes(t *testing.T) {
	h, mock := newTestServer(t)
	id := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "subject", "html_body", "plain_body", "status",
		"sent_at", "recipient_count", "open_count", "click_count", "created_at", "updated_at"}).
		AddRow(id, "Issue", "<p>x</p>", "x", newsletter.StatusDraft, nil, 0, 0, 0, now, now)
	mock.ExpectQuery("FROM newsletters WHERE id").WithArgs(id).WillReturnRows(rows)

	body := `{"test_email":"editor@example.com","resend_failed":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/newsletters/"+id.String()+"/send",
		strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthCheck(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
