// Package notify sends webhook alerts for notable guardrail evaluations.
//
// Dispatcher decorates an audit sink: every evaluation is recorded by the
// wrapped sink first, then classified into events (blocked, warned,
// errored, catalog_error) and posted to every channel subscribed to them.
// Deliveries run in the background and never delay the evaluation.
//
// Payloads are JSON and, when the channel has a secret, signed with
// HMAC-SHA256 in the X-Guardrail-Signature header ("sha256=<hex>").
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// ── Event types ─────────────────────────────────────────────

// EventType describes what happened.
type EventType string

const (
	EventBlocked      EventType = "evaluation.blocked"
	EventWarned       EventType = "evaluation.warned"
	EventErrored      EventType = "evaluation.errored"
	EventCatalogError EventType = "evaluation.catalog_error"
)

// Event is the webhook payload.
type Event struct {
	Type       EventType       `json:"type"`
	RequestID  string          `json:"request_id"`
	ProjectID  string          `json:"project_id,omitempty"`
	AgentID    string          `json:"agent_id,omitempty"`
	Caller     string          `json:"caller,omitempty"`
	Decision   models.Decision `json:"decision"`
	Guardrails []string        `json:"guardrails,omitempty"`
	Messages   []string        `json:"messages,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Classify derives the events an audit entry should raise.
func Classify(entry *models.AuditEntry) []Event {
	res := &entry.Result
	base := Event{
		RequestID: entry.RequestID,
		ProjectID: entry.ProjectID,
		AgentID:   entry.AgentID,
		Caller:    entry.Caller,
		Decision:  res.Decision,
		Timestamp: entry.CreatedAt,
	}

	if res.CatalogError != "" {
		ev := base
		ev.Type = EventCatalogError
		ev.Messages = []string{res.CatalogError}
		return []Event{ev}
	}

	var events []Event
	blocked, warned, errored := base, base, base
	blocked.Type, warned.Type, errored.Type = EventBlocked, EventWarned, EventErrored
	for _, g := range res.Guardrails {
		if g.Error {
			errored.Guardrails = append(errored.Guardrails, g.GuardrailID)
			errored.Messages = append(errored.Messages, g.ErrorMessage)
			continue
		}
		if !g.Triggered {
			continue
		}
		for _, a := range g.Actions {
			switch {
			case !a.Result.Proceed:
				blocked.Guardrails = appendOnce(blocked.Guardrails, g.GuardrailID)
				blocked.Messages = append(blocked.Messages, a.Result.Message)
			case a.ActionType == models.ActionWarn:
				warned.Guardrails = appendOnce(warned.Guardrails, g.GuardrailID)
				warned.Messages = append(warned.Messages, a.Result.Message)
			}
		}
	}
	if !res.ShouldProceed {
		events = append(events, blocked)
	}
	if len(warned.Guardrails) > 0 {
		events = append(events, warned)
	}
	if len(errored.Guardrails) > 0 {
		events = append(events, errored)
	}
	return events
}

func appendOnce(ids []string, id string) []string {
	if n := len(ids); n > 0 && ids[n-1] == id {
		return ids
	}
	return append(ids, id)
}

// ── Dispatcher ───────────────────────────────────────────────

// Channel is one webhook endpoint. Empty Events subscribes to everything.
type Channel struct {
	URL    string
	Secret string
	Events []EventType
}

func (c Channel) subscribes(t EventType) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, e := range c.Events {
		if e == t || e == "*" {
			return true
		}
	}
	return false
}

// Dispatcher records evaluations and posts alerts for them.
type Dispatcher struct {
	next     contracts.AuditSink
	channels []Channel
	client   *http.Client
	attempts int
	backoff  time.Duration
	wg       sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithRetry sets the delivery attempts and the base delay between them.
// The delay grows linearly with each attempt.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.attempts = attempts
		}
		d.backoff = backoff
	}
}

// NewDispatcher wraps next. A nil next only dispatches.
func NewDispatcher(next contracts.AuditSink, channels []Channel, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		next:     next,
		channels: channels,
		client:   &http.Client{Timeout: 15 * time.Second},
		attempts: 3,
		backoff:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ contracts.AuditSink = (*Dispatcher)(nil)

// RecordEvaluation implements contracts.AuditSink.
func (d *Dispatcher) RecordEvaluation(ctx context.Context, entry *models.AuditEntry) error {
	var err error
	if d.next != nil {
		err = d.next.RecordEvaluation(ctx, entry)
	}

	for _, ev := range Classify(entry) {
		for _, ch := range d.channels {
			if !ch.subscribes(ev.Type) {
				continue
			}
			d.wg.Add(1)
			go func(ch Channel, ev Event) {
				defer d.wg.Done()
				sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
				defer cancel()
				if err := d.Send(sendCtx, ch, ev); err != nil {
					log.Warn().Err(err).
						Str("url", ch.URL).
						Str("event", string(ev.Type)).
						Str("request_id", ev.RequestID).
						Msg("Webhook notification failed")
					return
				}
				log.Debug().Str("url", ch.URL).Str("event", string(ev.Type)).Msg("Webhook notification dispatched")
			}(ch, ev)
		}
	}
	return err
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Send posts one event to one channel, retrying on transport errors and
// non-2xx responses.
func (d *Dispatcher) Send(ctx context.Context, ch Channel, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < d.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * d.backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Guardrail-Webhook/1.0")
		req.Header.Set("X-Guardrail-Event", string(ev.Type))
		if ch.Secret != "" {
			req.Header.Set("X-Guardrail-Signature", "sha256="+Sign(ch.Secret, body))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, ch.URL)
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", d.attempts, lastErr)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
