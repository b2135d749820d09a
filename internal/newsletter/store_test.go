package newsletter

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestGetNewsletter(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "subject", "html_body", "plain_body", "status",
		"sent_at", "recipient_count", "open_count", "click_count", "created_at", "updated_at"}).
		AddRow(id, "April Issue", "<p>hi</p>", "hi", StatusDraft, nil, 0, 0, 0, now, now)
	mock.ExpectQuery("FROM newsletters WHERE id").WithArgs(id).WillReturnRows(rows)

	n, err := store.GetNewsletter(context.Background(), id)
	if err != nil {
		t.Fatalf("GetNewsletter: %v", err)
	}
	if n == nil || n.Subject != "April Issue" || n.Status != StatusDraft {
		t.Errorf("unexpected newsletter: %+v", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetNewsletterNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("FROM newsletters WHERE id").WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	n, err := store.GetNewsletter(context.Background(), id)
	if err != nil {
		t.Fatalf("GetNewsletter: %v", err)
	}
	if n != nil {
		t.Errorf("expected nil for missing newsletter, got %+v", n)
	}
}

func TestMarkDeliveredFirstWriterWins(t *testing.T) {
	store, mock := newMockStore(t)
	nid, sid := uuid.New(), uuid.New()

	mock.ExpectExec("INSERT INTO newsletter_deliveries").
		WithArgs(sqlmock.AnyArg(), nid, sid).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := store.MarkDelivered(context.Background(), nid, sid)
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if !inserted {
		t.Error("first write should report inserted")
	}

	// Second write hits ON CONFLICT DO NOTHING
	mock.ExpectExec("INSERT INTO newsletter_deliveries").
		WithArgs(sqlmock.AnyArg(), nid, sid).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err = store.MarkDelivered(context.Background(), nid, sid)
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if inserted {
		t.Error("duplicate write should report not inserted")
	}
}

func TestDeactivateSubscriber(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE subscribers SET active = false").
		WithArgs("reader@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.DeactivateSubscriber(context.Background(), "Reader@Example.com ")
	if err != nil {
		t.Fatalf("DeactivateSubscriber: %v", err)
	}
	if !ok {
		t.Error("expected deactivation to report a row change")
	}

	mock.ExpectExec("UPDATE subscribers SET active = false").
		WithArgs("ghost@example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = store.DeactivateSubscriber(context.Background(), "ghost@example.com")
	if err != nil {
		t.Fatalf("DeactivateSubscriber: %v", err)
	}
	if ok {
		t.Error("unknown address should report no change")
	}
}

func TestIncrementNewsletterCounter(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec("SET open_count = open_count").WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.IncrementNewsletterCounter(context.Background(), id, EventOpened); err != nil {
		t.Fatalf("increment opened: %v", err)
	}

	mock.ExpectExec("SET click_count = click_count").WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.IncrementNewsletterCounter(context.Background(), id, EventClicked); err != nil {
		t.Fatalf("increment clicked: %v", err)
	}

	// Unknown kinds are a no-op, no query expected
	if err := store.IncrementNewsletterCounter(context.Background(), id, EventSent); err != nil {
		t.Fatalf("increment unknown kind: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertTrackingLinks(t *testing.T) {
	store, mock := newMockStore(t)
	nid := uuid.New()
	links := []*TrackingLink{
		{NewsletterID: nid, OriginalURL: "https://example.com/a", Token: "tok-a"},
		{NewsletterID: nid, OriginalURL: "https://example.com/b", Token: "tok-b"},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO tracking_links"))
	for _, link := range links {
		prep.ExpectExec().
			WithArgs(sqlmock.AnyArg(), nid, link.OriginalURL, link.Token, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := store.InsertTrackingLinks(context.Background(), links); err != nil {
		t.Fatalf("InsertTrackingLinks: %v", err)
	}
	for _, link := range links {
		if link.ID == uuid.Nil {
			t.Errorf("link %s not assigned an id", link.Token)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertTrackingLinksEmpty(t *testing.T) {
	store, mock := newMockStore(t)
	if err := store.InsertTrackingLinks(context.Background(), nil); err != nil {
		t.Fatalf("empty insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetTrackingLinkByToken(t *testing.T) {
	store, mock := newMockStore(t)
	nid := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "newsletter_id", "original_url", "token", "created_at"}).
		AddRow(uuid.New(), nid, "https://example.com/a", "tok-a", now)
	mock.ExpectQuery("FROM tracking_links WHERE token").WithArgs("tok-a").WillReturnRows(rows)

	link, err := store.GetTrackingLinkByToken(context.Background(), "tok-a")
	if err != nil {
		t.Fatalf("GetTrackingLinkByToken: %v", err)
	}
	if link == nil || link.OriginalURL != "https://example.com/a" {
		t.Errorf("unexpected link: %+v", link)
	}

	mock.ExpectQuery("FROM tracking_links WHERE token").WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	link, err = store.GetTrackingLinkByToken(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetTrackingLinkByToken unknown: %v", err)
	}
	if link != nil {
		t.Errorf("expected nil for unknown token, got %+v", link)
	}
}

func TestGetPendingSubscribers(t *testing.T) {
	store, mock := newMockStore(t)
	nid := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "email", "name", "active", "subscribed_at"}).
		AddRow(uuid.New(), "a@example.com", "A", true, now).
		AddRow(uuid.New(), "b@example.com", "B", true, now)
	mock.ExpectQuery("NOT EXISTS").WithArgs(nid).WillReturnRows(rows)

	subs, err := store.GetPendingSubscribers(context.Background(), nid)
	if err != nil {
		t.Fatalf("GetPendingSubscribers: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("got %d pending subscribers, want 2", len(subs))
	}
}

func TestRecordEventWithoutNewsletter(t *testing.T) {
	store, mock := newMockStore(t)
	sid := uuid.New()

	mock.ExpectExec("INSERT INTO delivery_events").
		WithArgs(sqlmock.AnyArg(), nil, &sid, EventUnsubscribed, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.RecordEvent(context.Background(), &DeliveryEvent{
		SubscriberID: &sid,
		Kind:         EventUnsubscribed,
		Payload:      JSON{"ip": "10.0.0.1"},
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
}
