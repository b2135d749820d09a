package newsletter

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/osteele/liquid"

	"github.com/foliomedia/newsroom/internal/mailer"
	"github.com/foliomedia/newsroom/internal/pkg/logger"
)

// Pacer inserts the inter-batch delay that keeps the dispatcher inside the
// mail provider's rate limit. It is injectable so tests run without timers.
type Pacer interface {
	Wait(ctx context.Context) error
}

// FixedDelayPacer waits a constant delay regardless of observed failures.
// This is rate-limit accommodation, not error backoff.
type FixedDelayPacer struct {
	Delay time.Duration
}

// Wait sleeps for the configured delay or until the context is done
func (p FixedDelayPacer) Wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(p.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendRecorder receives per-recipient delivery bookkeeping from the
// dispatcher. Implementations must treat failures as non-fatal: a message
// that reached the provider is never un-sent by a failed insert.
type SendRecorder interface {
	RecordSent(ctx context.Context, newsletterID uuid.UUID, sub *Subscriber, messageID string, isTest bool)
}

// maxErrorsReported caps the error sample returned to the caller
const maxErrorsReported = 10

// maxErrorLength bounds each per-recipient error summary
const maxErrorLength = 200

// Dispatcher fans one prepared template out to a recipient list in fixed-size
// batches. Within a batch all sends run concurrently; batches run in order
// with the pacer's delay between them, bounding in-flight concurrency to the
// batch size.
type Dispatcher struct {
	sender      mailer.Sender
	recorder    SendRecorder
	transformer *Transformer

	from        string
	fromName    string
	batchSize   int
	pacer       Pacer
	sendTimeout time.Duration

	engine *liquid.Engine
}

// NewDispatcher creates a dispatcher. batchSize must be >= 1; sendTimeout
// bounds each individual transport call so a hung provider cannot stall a
// batch forever.
func NewDispatcher(sender mailer.Sender, recorder SendRecorder, transformer *Transformer,
	from, fromName string, batchSize int, pacer Pacer, sendTimeout time.Duration) *Dispatcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}

	engine := liquid.NewEngine()
	engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil || fmt.Sprintf("%v", value) == "" {
			return defaultVal
		}
		return value
	})

	return &Dispatcher{
		sender:      sender,
		recorder:    recorder,
		transformer: transformer,
		from:        from,
		fromName:    fromName,
		batchSize:   batchSize,
		pacer:       pacer,
		sendTimeout: sendTimeout,
		engine:      engine,
	}
}

// sendOutcome is the per-recipient result collected inside a batch. Each
// goroutine writes only its own slot, so no locking is needed.
type sendOutcome struct {
	ok      bool
	errText string
}

// Dispatch sends the template to every recipient. A failure for one recipient
// never aborts the batch or later batches; failed recipients are only retried
// by a later explicit resend invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, tpl *Template, recipients []*Subscriber, isTest bool) (*DispatchResult, error) {
	htmlTpl, err := d.engine.ParseString(tpl.HTML)
	if err != nil {
		return nil, fmt.Errorf("parse html template: %w", err)
	}
	subjectTpl, err := d.engine.ParseString(tpl.Subject)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}

	result := &DispatchResult{
		NewsletterID:    tpl.NewsletterID,
		TotalRecipients: len(recipients),
		IsTest:          isTest,
	}

	for start := 0; start < len(recipients); start += d.batchSize {
		end := start + d.batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[start:end]

		outcomes := make([]sendOutcome, len(batch))
		var wg sync.WaitGroup
		for i, sub := range batch {
			wg.Add(1)
			go func(i int, sub *Subscriber) {
				defer wg.Done()
				outcomes[i] = d.sendOne(ctx, tpl.NewsletterID, htmlTpl, subjectTpl, sub, isTest)
			}(i, sub)
		}
		wg.Wait()

		for _, o := range outcomes {
			if o.ok {
				result.SuccessCount++
			} else {
				result.ErrorCount++
				if len(result.Errors) < maxErrorsReported {
					result.Errors = append(result.Errors, o.errText)
				}
			}
		}

		if end < len(recipients) {
			if err := d.pacer.Wait(ctx); err != nil {
				// Context gone mid-run: count the rest as failed and stop
				remaining := len(recipients) - end
				result.ErrorCount += remaining
				if len(result.Errors) < maxErrorsReported {
					result.Errors = append(result.Errors, fmt.Sprintf("dispatch interrupted: %v", err))
				}
				return result, nil
			}
		}
	}

	return result, nil
}

// sendOne personalizes, sends and records a single message
func (d *Dispatcher) sendOne(ctx context.Context, newsletterID uuid.UUID,
	htmlTpl, subjectTpl *liquid.Template, sub *Subscriber, isTest bool) sendOutcome {

	bindings := map[string]interface{}{
		"subscriber_id": sub.ID.String(),
		"email":         sub.Email,
		"name":          sub.Name,
	}

	htmlOut, err := htmlTpl.Render(bindings)
	if err != nil {
		return failure(sub.Email, fmt.Errorf("render: %w", err))
	}
	subjectOut, err := subjectTpl.Render(bindings)
	if err != nil {
		return failure(sub.Email, fmt.Errorf("render subject: %w", err))
	}

	html := string(htmlOut)
	msg := &mailer.Message{
		From:     d.from,
		FromName: d.fromName,
		To:       sub.Email,
		ToName:   sub.Name,
		Subject:  string(subjectOut),
		HTML:     html,
		Text:     PlainTextFromHTML(html),
	}
	mailer.AddListUnsubscribeHeaders(msg, d.transformer.UnsubscribeURL(url.QueryEscape(sub.Email)))

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	messageID, sendErr := d.sender.Send(sendCtx, msg)
	if sendErr != nil {
		return failure(sub.Email, sendErr)
	}

	d.recorder.RecordSent(ctx, newsletterID, sub, messageID, isTest)
	return sendOutcome{ok: true}
}

func failure(email string, err error) sendOutcome {
	logger.Warn("send failed", "email", email, "error", err)
	text := fmt.Sprintf("%s: %v", email, err)
	if len(text) > maxErrorLength {
		text = text[:maxErrorLength]
	}
	return sendOutcome{errText: text}
}
