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

package fed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fedibox/fedibox/db"
	"github.com/fedibox/fedibox/inbox"
	"github.com/fedibox/fedibox/outbox"
	"github.com/fedibox/fedibox/queue"
)

// Worker consumes queued messages: incoming activities go to the
// inbox dispatcher, outgoing activities are signed and delivered.
type Worker struct {
	Accounts   *db.Accounts
	Dispatcher *inbox.Dispatcher
	Deliverer  *Deliverer
}

// Handle processes one queue message. Errors it returns drive the
// queue's retry and backoff logic.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	switch msg.Type {
	case queue.TypeInbox:
		return w.handleInbox(ctx, msg)

	case queue.TypeOutbox:
		return w.handleOutbox(ctx, msg)

	default:
		slog.WarnContext(ctx, "Ignoring message of unknown type", "id", msg.ID, "type", msg.Type)
		return nil
	}
}

func (w *Worker) handleInbox(ctx context.Context, msg queue.Message) error {
	payload, activity, err := InboxPayload(msg.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode inbox message %s: %w", msg.ID, err)
	}

	slog.InfoContext(ctx, "Dispatching activity", "id", activity.ID, "type", activity.Type, "actor", activity.Actor)
	return w.Dispatcher.Dispatch(ctx, payload.SiteID, payload.Sender, payload.Activity, activity)
}

func (w *Worker) handleOutbox(ctx context.Context, msg queue.Message) error {
	var payload outbox.DeliveryPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode outbox message %s: %w", msg.ID, err)
	}

	sender, err := w.Accounts.ByID(ctx, payload.SenderID)
	if err != nil {
		return fmt.Errorf("failed to fetch sender %d: %w", payload.SenderID, err)
	}

	slog.InfoContext(ctx, "Delivering activity", "id", msg.ID, "inbox", msg.Inbox)
	return w.Deliverer.Deliver(ctx, sender, payload.Activity, msg.Inbox)
}
