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

// Package queue moves inbox and outbox work through a message queue
// with per-inbox failure backoff. The canonical transport is a
// push-based Pub/Sub; Memory is the in-process variant.
package queue

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Type says which side of federation a message belongs to.
type Type string

const (
	TypeInbox  Type = "inbox"
	TypeOutbox Type = "outbox"
)

// Message is one unit of queued work. Inbox is set on outbox
// messages only and names the remote inbox the payload is delivered
// to; it keys the backoff record.
type Message struct {
	ID           string            `json:"id"`
	Type         Type              `json:"type"`
	Inbox        string            `json:"inbox,omitempty"`
	Payload      json.RawMessage   `json:"payload,omitempty"`
	TraceContext map[string]string `json:"traceContext,omitempty"`
}

// Handler consumes one dequeued message. The queue classifies a
// returned error as retryable or permanent.
type Handler func(ctx context.Context, msg Message) error

// Queue is the abstract transport: fire-and-forget enqueue, and a
// listener loop that runs until the context is cancelled.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	Listen(ctx context.Context, handler Handler) error
}

// InjectTrace copies the caller's W3C trace context into the
// message so the consumer side continues the same trace.
func (m *Message) InjectTrace(ctx context.Context) {
	if m.TraceContext == nil {
		m.TraceContext = map[string]string{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(m.TraceContext))
}

// ExtractTrace restores the producer's trace context.
func (m *Message) ExtractTrace(ctx context.Context) context.Context {
	if len(m.TraceContext) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(m.TraceContext))
}
