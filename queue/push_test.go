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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	Topic      string
	Data       []byte
	Attributes map[string]string
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) error {
	p.calls = append(p.calls, publishCall{topic, data, attributes})
	return p.err
}

type fakeBackoffs struct {
	mu       sync.Mutex
	active   map[string]bool
	failures map[string]int
	cleared  []string
}

func newFakeBackoffs() *fakeBackoffs {
	return &fakeBackoffs{active: map[string]bool{}, failures: map[string]int{}}
}

func (b *fakeBackoffs) IsActive(ctx context.Context, inbox string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active[inbox], nil
}

func (b *fakeBackoffs) RecordFailure(ctx context.Context, inbox string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[inbox]++
	return nil
}

func (b *fakeBackoffs) Clear(ctx context.Context, inbox string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleared = append(b.cleared, inbox)
	return nil
}

func (b *fakeBackoffs) failureCount(inbox string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[inbox]
}

func pushRequest(t *testing.T, msg Message) *http.Request {
	t.Helper()

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"message_id": "broker-1",
			"data":       base64.StdEncoding.EncodeToString(data),
			"attributes": map[string]string{"fedifyId": msg.ID},
		},
	})
	require.NoError(t, err)

	return httptest.NewRequest(http.MethodPost, "/internal/queue/push", bytes.NewReader(body))
}

// listen starts the push listener and blocks until it accepts pushes.
func listen(t *testing.T, p *Push, handler Handler) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		_ = p.Listen(ctx, handler)
	}()

	require.Eventually(t, p.listening.Load, time.Second, time.Millisecond)
}

func TestHandlePushNotListening(t *testing.T) {
	p := &Push{Publisher: &fakePublisher{}, Topic: "main"}

	w := httptest.NewRecorder()
	p.HandlePush(w, pushRequest(t, Message{ID: "1", Type: TypeOutbox, Inbox: "https://a.example/inbox"}))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestHandlePushSuccess(t *testing.T) {
	backoffs := newFakeBackoffs()
	p := &Push{Publisher: &fakePublisher{}, Topic: "main", RetryTopic: "retry", Backoffs: backoffs}

	var handled []string
	listen(t, p, func(ctx context.Context, msg Message) error {
		handled = append(handled, msg.ID)
		return nil
	})

	w := httptest.NewRecorder()
	p.HandlePush(w, pushRequest(t, Message{ID: "1", Type: TypeOutbox, Inbox: "https://a.example/inbox"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"1"}, handled)
	assert.Equal(t, []string{"https://a.example/inbox"}, backoffs.cleared)
	assert.Empty(t, backoffs.failures)
}

func TestHandlePushRetryable(t *testing.T) {
	publisher := &fakePublisher{}
	backoffs := newFakeBackoffs()
	p := &Push{Publisher: publisher, Topic: "main", RetryTopic: "retry", Backoffs: backoffs}

	var caught []error
	p.ErrorListener = func(err error) {
		caught = append(caught, err)
	}

	listen(t, p, func(ctx context.Context, msg Message) error {
		return &DeliveryError{Inbox: msg.Inbox, StatusCode: 503}
	})

	w := httptest.NewRecorder()
	p.HandlePush(w, pushRequest(t, Message{ID: "1", Type: TypeOutbox, Inbox: "https://a.example/inbox"}))

	// The broker consumes the message; the retry topic redelivers it.
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, publisher.calls, 1)
	assert.Equal(t, "retry", publisher.calls[0].Topic)
	assert.Equal(t, map[string]string{"fedifyId": "1"}, publisher.calls[0].Attributes)
	assert.Len(t, caught, 1)
	assert.Empty(t, backoffs.failures)
}

func TestHandlePushRetryableNoRetryTopic(t *testing.T) {
	p := &Push{Publisher: &fakePublisher{}, Topic: "main"}

	listen(t, p, func(ctx context.Context, msg Message) error {
		return &DeliveryError{Inbox: msg.Inbox, StatusCode: 503}
	})

	w := httptest.NewRecorder()
	p.HandlePush(w, pushRequest(t, Message{ID: "1", Type: TypeOutbox, Inbox: "https://a.example/inbox"}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandlePushRepublishFails(t *testing.T) {
	publisher := &fakePublisher{err: fmt.Errorf("broker down")}
	p := &Push{Publisher: publisher, Topic: "main", RetryTopic: "retry"}

	listen(t, p, func(ctx context.Context, msg Message) error {
		return &DeliveryError{Inbox: msg.Inbox, StatusCode: 503}
	})

	w := httptest.NewRecorder()
	p.HandlePush(w, pushRequest(t, Message{ID: "1", Type: TypeOutbox, Inbox: "https://a.example/inbox"}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandlePushPermanent(t *testing.T) {
	backoffs := newFakeBackoffs()
	p := &Push{Publisher: &fakePublisher{}, Topic: "main", RetryTopic: "retry", Backoffs: backoffs}

	var caught []error
	p.ErrorListener = func(err error) {
		caught = append(caught, err)
	}

	listen(t, p, func(ctx context.Context, msg Message) error {
		return &DeliveryError{Inbox: msg.Inbox, StatusCode: 404}
	})

	w := httptest.NewRecorder()
	p.HandlePush(w, pushRequest(t, Message{ID: "1", Type: TypeOutbox, Inbox: "https://a.example/inbox"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, backoffs.failures["https://a.example/inbox"])
	assert.Len(t, caught, 1)
}

func TestHandlePushBadEnvelope(t *testing.T) {
	p := &Push{Publisher: &fakePublisher{}, Topic: "main"}
	listen(t, p, func(ctx context.Context, msg Message) error {
		t.Fatal("handler called")
		return nil
	})

	for _, body := range []string{
		"not json",
		`{"message":{}}`,
		`{"message":{"data":"!!!"}}`,
		`{"message":{"data":"` + base64.StdEncoding.EncodeToString([]byte("not json")) + `"}}`,
	} {
		w := httptest.NewRecorder()
		p.HandlePush(w, httptest.NewRequest(http.MethodPost, "/internal/queue/push", bytes.NewReader([]byte(body))))
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
	}
}

func TestEnqueue(t *testing.T) {
	publisher := &fakePublisher{}
	p := &Push{Publisher: publisher, Topic: "main", Backoffs: newFakeBackoffs()}

	require.NoError(t, p.Enqueue(context.Background(), Message{ID: "1", Type: TypeOutbox, Inbox: "https://a.example/inbox"}))

	require.Len(t, publisher.calls, 1)
	assert.Equal(t, "main", publisher.calls[0].Topic)
	assert.Equal(t, map[string]string{"fedifyId": "1"}, publisher.calls[0].Attributes)

	var msg Message
	require.NoError(t, json.Unmarshal(publisher.calls[0].Data, &msg))
	assert.Equal(t, "1", msg.ID)
	assert.Equal(t, "https://a.example/inbox", msg.Inbox)
}

func TestEnqueueBackedOff(t *testing.T) {
	publisher := &fakePublisher{}
	backoffs := newFakeBackoffs()
	backoffs.active["https://a.example/inbox"] = true
	p := &Push{Publisher: publisher, Topic: "main", Backoffs: backoffs}

	// The delivery is dropped, not failed.
	require.NoError(t, p.Enqueue(context.Background(), Message{ID: "1", Type: TypeOutbox, Inbox: "https://a.example/inbox"}))
	assert.Empty(t, publisher.calls)

	// Inbox messages are never subject to backoff.
	require.NoError(t, p.Enqueue(context.Background(), Message{ID: "2", Type: TypeInbox}))
	assert.Len(t, publisher.calls, 1)
}
