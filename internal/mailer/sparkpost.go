package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/foliomedia/newsroom/internal/pkg/httpretry"
)

// SparkPostSender sends mail through the SparkPost transmissions API
type SparkPostSender struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
}

// NewSparkPostSender creates a SparkPost sender. Transient API failures are
// retried with backoff; hard rejections are surfaced to the caller.
func NewSparkPostSender(apiKey string) *SparkPostSender {
	return &SparkPostSender{
		apiKey:  apiKey,
		baseURL: "https://api.sparkpost.com/api/v1",
		client:  httpretry.NewRetryClient(&http.Client{Timeout: 30 * time.Second}, 2),
	}
}

// Send delivers one message and returns the SparkPost transmission id
func (s *SparkPostSender) Send(ctx context.Context, msg *Message) (string, error) {
	transmission := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"address": map[string]string{"email": msg.To, "name": msg.ToName}},
		},
		"content": map[string]interface{}{
			"from":    map[string]string{"email": msg.From, "name": msg.FromName},
			"subject": msg.Subject,
			"html":    msg.HTML,
			"text":    msg.Text,
			"headers": msg.Headers,
		},
		"options": map[string]interface{}{
			// Tracking is injected upstream; the provider must not rewrite it
			"open_tracking":  false,
			"click_tracking": false,
		},
	}

	body, err := json.Marshal(transmission)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transmissions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sparkpost request: %w", err)
	}
	defer resp.Body.Close()

	var spResp struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
		Errors []struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"errors"`
	}
	json.NewDecoder(resp.Body).Decode(&spResp)

	if resp.StatusCode >= 400 || len(spResp.Errors) > 0 {
		errMsg := fmt.Sprintf("status %d", resp.StatusCode)
		if len(spResp.Errors) > 0 {
			errMsg = spResp.Errors[0].Message
		}
		return "", fmt.Errorf("sparkpost rejected message: %s", errMsg)
	}

	return spResp.Results.ID, nil
}
