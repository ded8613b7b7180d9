/*
Copyright 2025 the fedibox authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Publisher publishes raw payloads to a named topic. Attributes ride
// alongside the payload and survive the push round-trip.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) error
}

// BackoffStore is the per-inbox failure record used for admission
// control and permanent-failure accounting.
type BackoffStore interface {
	IsActive(ctx context.Context, inbox string) (bool, error)
	RecordFailure(ctx context.Context, inbox string) error
	Clear(ctx context.Context, inbox string) error
}

// Push is a queue on a push-based Pub/Sub transport: Enqueue
// publishes to the main topic and the broker POSTs each message back
// to HandlePush. Retryable failures are republished to a retry topic
// whose subscription redelivers on its own schedule.
type Push struct {
	Publisher  Publisher
	Topic      string
	RetryTopic string
	Backoffs   BackoffStore

	// ErrorListener observes every caught handler error, exactly
	// once per error. Optional.
	ErrorListener func(error)

	handler   atomic.Pointer[Handler]
	listening atomic.Bool
}

// Enqueue publishes the message to the main topic. Outbox messages
// aimed at an inbox under active backoff are dropped so a broken
// inbox is not hammered.
func (p *Push) Enqueue(ctx context.Context, msg Message) error {
	if msg.Type == TypeOutbox && msg.Inbox != "" && p.Backoffs != nil {
		active, err := p.Backoffs.IsActive(ctx, msg.Inbox)
		if err != nil {
			return err
		}
		if active {
			slog.InfoContext(ctx, "Dropping delivery to backed off inbox", "id", msg.ID, "inbox", msg.Inbox)
			return nil
		}
	}

	msg.InjectTrace(ctx)

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return p.Publisher.Publish(ctx, p.Topic, data, map[string]string{"fedifyId": msg.ID})
}

// Listen installs the handler and accepts pushes until the context
// is cancelled. Pushes arriving outside a Listen window are rejected
// with 429 so the broker redelivers them later.
func (p *Push) Listen(ctx context.Context, handler Handler) error {
	p.handler.Store(&handler)
	p.listening.Store(true)
	defer p.listening.Store(false)

	<-ctx.Done()
	return nil
}

// pushEnvelope is the wire shape the broker POSTs: the payload
// base64-encoded under message.data.
type pushEnvelope struct {
	Message struct {
		MessageID  string            `json:"message_id"`
		Data       string            `json:"data"`
		Attributes map[string]string `json:"attributes"`
	} `json:"message"`
}

// HandlePush is the push subscription endpoint. The status code
// steers the broker: 200 consumes the message (including handled
// failures), 500 makes the broker retry, 429 means not listening.
func (p *Push) HandlePush(w http.ResponseWriter, r *http.Request) {
	if !p.listening.Load() {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	handler := p.handler.Load()
	if handler == nil {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Message.Data == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := msg.ExtractTrace(r.Context())

	start := time.Now()
	if err := (*handler)(ctx, msg); err != nil {
		p.failed(ctx, w, msg, data, envelope.Message.Attributes, err)
		return
	}

	if msg.Type == TypeOutbox && msg.Inbox != "" && p.Backoffs != nil {
		if err := p.Backoffs.Clear(ctx, msg.Inbox); err != nil {
			slog.WarnContext(ctx, "Failed to clear backoff", "inbox", msg.Inbox, "error", err)
		}
	}

	slog.DebugContext(ctx, "Handled message", "id", msg.ID, "type", msg.Type, "elapsed", time.Since(start))
	w.WriteHeader(http.StatusOK)
}

func (p *Push) failed(ctx context.Context, w http.ResponseWriter, msg Message, data []byte, attributes map[string]string, err error) {
	if p.ErrorListener != nil {
		p.ErrorListener(err)
	}

	if Retryable(err) {
		if p.RetryTopic == "" {
			slog.WarnContext(ctx, "Handler failed, deferring to transport retry", "id", msg.ID, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		if err := p.Publisher.Publish(ctx, p.RetryTopic, data, attributes); err != nil {
			slog.ErrorContext(ctx, "Failed to republish message", "id", msg.ID, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		slog.InfoContext(ctx, "Republished message to retry topic", "id", msg.ID, "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if msg.Type == TypeOutbox && msg.Inbox != "" && p.Backoffs != nil {
		if err := p.Backoffs.RecordFailure(ctx, msg.Inbox); err != nil {
			slog.WarnContext(ctx, "Failed to record delivery failure", "inbox", msg.Inbox, "error", err)
		}
	}

	slog.InfoContext(ctx, "Dropping permanently failed message", "id", msg.ID, "inbox", msg.Inbox, "error", err)
	w.WriteHeader(http.StatusOK)
}
