// Package mailer abstracts the transactional email transport. The dispatch
// engine only depends on the Sender interface; SparkPost and AWS SES
// implementations live alongside it.
package mailer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Message is one outbound email, fully personalized
type Message struct {
	From     string
	FromName string
	To       string
	ToName   string
	Subject  string
	HTML     string
	Text     string
	Headers  map[string]string
}

// Sender delivers a single message and returns the provider message id
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// AddListUnsubscribeHeaders sets the one-click unsubscribe header hints on a
// message. Mail clients surface these as a native unsubscribe control.
func AddListUnsubscribeHeaders(msg *Message, unsubscribeURL string) {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}
	msg.Headers["List-Unsubscribe"] = fmt.Sprintf("<%s>", unsubscribeURL)
	msg.Headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
}

// ValidateAddress performs basic syntactic email validation
func ValidateAddress(email string) bool {
	email = strings.TrimSpace(email)
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}

	local, domain := parts[0], parts[1]
	if len(local) == 0 || len(local) > 64 {
		return false
	}
	if len(domain) == 0 || len(domain) > 253 {
		return false
	}
	if !strings.Contains(domain, ".") {
		return false
	}

	_, err := url.Parse("mailto:" + email)
	return err == nil
}
