package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newSparkPostTest(t *testing.T, handler http.HandlerFunc) *SparkPostSender {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := NewSparkPostSender("test-key")
	s.baseURL = srv.URL
	s.client = srv.Client()
	return s
}

func TestSparkPostSend(t *testing.T) {
	var captured map[string]interface{}
	s := newSparkPostTest(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transmissions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "test-key" {
			t.Error("missing api key header")
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Write([]byte(`{"results":{"id":"tx-123"}}`))
	})

	msg := &Message{
		From:    "news@foliomedia.io",
		To:      "reader@example.com",
		Subject: "Weekly digest",
		HTML:    "<p>hi</p>",
		Text:    "hi",
		Headers: map[string]string{"List-Unsubscribe": "<https://x>"},
	}
	id, err := s.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "tx-123" {
		t.Errorf("message id = %q, want tx-123", id)
	}

	// Provider-side tracking must stay off; ours is already in the HTML
	opts := captured["options"].(map[string]interface{})
	if opts["open_tracking"] != false || opts["click_tracking"] != false {
		t.Errorf("provider tracking not disabled: %v", opts)
	}
}

func TestSparkPostSendRejected(t *testing.T) {
	s := newSparkPostTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"message":"invalid recipient","code":"1902"}]}`))
	})

	_, err := s.Send(context.Background(), &Message{To: "bad"})
	if err == nil {
		t.Fatal("expected rejection error")
	}
}
