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
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/domain"
	"github.com/fedibox/fedibox/queue"
)

// InboxMessage is the payload of a queued inbox message: the
// verbatim activity plus the receiving tenant, so the dispatcher
// works without re-reading the request.
type InboxMessage struct {
	SiteID   int64           `json:"siteId"`
	Sender   string          `json:"sender"`
	Activity json.RawMessage `json:"activity"`
}

// postInbox accepts a federated activity: verify the signature,
// parse, then enqueue for asynchronous dispatch. 202 means accepted,
// not processed.
func (l *Listener) postInbox(w http.ResponseWriter, r *http.Request) {
	site := siteFrom(r.Context())

	if _, err := l.siteAccount(r); err != nil {
		l.error(w, r, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, l.Config.MaxRequestBodySize))
	if err != nil {
		l.error(w, r, domain.Wrap(domain.ErrInvalidType, err))
		return
	}

	sender, err := l.verifyRequest(r.Context(), r, body)
	if err != nil {
		if domain.IsKind(err, domain.ErrLookup) {
			// The signing actor is gone; nothing to verify against.
			slog.InfoContext(r.Context(), "Cannot resolve signing actor", "error", err)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		l.error(w, r, err)
		return
	}

	var activity ap.Activity
	if err := json.Unmarshal(body, &activity); err != nil || activity.ID == "" || activity.Type == "" || activity.Actor == "" {
		l.error(w, r, domain.E(domain.ErrInvalidType, "malformed activity"))
		return
	}

	payload, err := json.Marshal(InboxMessage{
		SiteID:   site.ID,
		Sender:   sender.ID,
		Activity: body,
	})
	if err != nil {
		l.error(w, r, err)
		return
	}

	if err := l.Queue.Enqueue(r.Context(), queue.Message{
		ID:      activity.ID,
		Type:    queue.TypeInbox,
		Payload: payload,
	}); err != nil {
		l.error(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "Accepted activity", "id", activity.ID, "type", activity.Type, "actor", activity.Actor, "site", site.Host)
	w.WriteHeader(http.StatusAccepted)
}

// InboxPayload decodes a queued inbox message back into its parts.
func InboxPayload(payload []byte) (*InboxMessage, *ap.Activity, error) {
	var msg InboxMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, nil, err
	}

	var activity ap.Activity
	if err := json.Unmarshal(msg.Activity, &activity); err != nil {
		return nil, nil, err
	}

	return &msg, &activity, nil
}
