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

// Package bus is the in-process domain event bus. Repositories
// publish events after commit; projections subscribe to derive feed
// rows and notifications. Subscribers run in registration order and a
// failing subscriber does not block the ones after it.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fedibox/fedibox/domain"
)

// Handler consumes one domain event. Errors are logged, not
// propagated: projections never fail the primary write.
type Handler func(ctx context.Context, event domain.Event) error

type subscriber struct {
	name    string
	handler Handler
}

// Bus dispatches domain events to subscribers in registration order.
// The zero value is not usable; call New.
type Bus struct {
	mu   sync.RWMutex
	subs []subscriber
	wg   sync.WaitGroup
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers a named handler for all events. The name is
// used in error logs only.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscriber{name, h})
}

// Publish dispatches events asynchronously, preserving subscriber
// registration order within each event. Best-effort: subscriber
// errors are logged and isolated.
func (b *Bus) Publish(ctx context.Context, events ...domain.Event) {
	if len(events) == 0 {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dispatch(context.WithoutCancel(ctx), events)
	}()
}

// PublishSync dispatches events on the calling goroutine. Used by
// tests and by callers that need the projections applied before
// returning.
func (b *Bus) PublishSync(ctx context.Context, events ...domain.Event) {
	b.dispatch(ctx, events)
}

func (b *Bus) dispatch(ctx context.Context, events []domain.Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, event := range events {
		for _, s := range subs {
			if err := s.handler(ctx, event); err != nil {
				slog.ErrorContext(ctx, "Event subscriber failed", "subscriber", s.name, "event", event.EventName(), "error", err)
			}
		}
	}
}

// Wait blocks until all in-flight async publishes have completed.
func (b *Bus) Wait() {
	b.wg.Wait()
}
