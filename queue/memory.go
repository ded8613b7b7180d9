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
	"log/slog"
	"time"
)

// Memory is the in-process queue: a buffered channel drained by
// Listen. Retryable failures are redelivered after a short delay;
// permanent failures record a backoff like the push transport does.
type Memory struct {
	Backoffs   BackoffStore
	RetryDelay time.Duration

	// ErrorListener observes every caught handler error. Optional.
	ErrorListener func(error)

	messages chan Message
}

// NewMemory returns a queue buffering up to size messages.
func NewMemory(size int) *Memory {
	return &Memory{
		RetryDelay: time.Second,
		messages:   make(chan Message, size),
	}
}

// Enqueue adds the message to the buffer, applying the same backoff
// admission control as the push transport. A full buffer blocks
// until the listener catches up or the context is cancelled.
func (m *Memory) Enqueue(ctx context.Context, msg Message) error {
	if msg.Type == TypeOutbox && msg.Inbox != "" && m.Backoffs != nil {
		active, err := m.Backoffs.IsActive(ctx, msg.Inbox)
		if err != nil {
			return err
		}
		if active {
			slog.InfoContext(ctx, "Dropping delivery to backed off inbox", "id", msg.ID, "inbox", msg.Inbox)
			return nil
		}
	}

	msg.InjectTrace(ctx)

	select {
	case m.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen drains the buffer until the context is cancelled. The
// in-flight handler finishes before Listen returns.
func (m *Memory) Listen(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.messages:
			m.handle(ctx, msg, handler)
		}
	}
}

func (m *Memory) handle(ctx context.Context, msg Message, handler Handler) {
	err := handler(msg.ExtractTrace(ctx), msg)
	if err == nil {
		if msg.Type == TypeOutbox && msg.Inbox != "" && m.Backoffs != nil {
			if err := m.Backoffs.Clear(ctx, msg.Inbox); err != nil {
				slog.WarnContext(ctx, "Failed to clear backoff", "inbox", msg.Inbox, "error", err)
			}
		}
		return
	}

	if m.ErrorListener != nil {
		m.ErrorListener(err)
	}

	if Retryable(err) {
		slog.InfoContext(ctx, "Redelivering message", "id", msg.ID, "error", err)
		go func() {
			select {
			case <-time.After(m.RetryDelay):
			case <-ctx.Done():
				return
			}
			select {
			case m.messages <- msg:
			case <-ctx.Done():
			}
		}()
		return
	}

	if msg.Type == TypeOutbox && msg.Inbox != "" && m.Backoffs != nil {
		if err := m.Backoffs.RecordFailure(ctx, msg.Inbox); err != nil {
			slog.WarnContext(ctx, "Failed to record delivery failure", "inbox", msg.Inbox, "error", err)
		}
	}
	slog.InfoContext(ctx, "Dropping permanently failed message", "id", msg.ID, "inbox", msg.Inbox, "error", err)
}
