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
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedibox/fedibox/queue"
)

func TestDeliver(t *testing.T) {
	kv := &memKV{}
	sender := testKeyPair(t, kv)

	var received *http.Request
	var body []byte
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Clone(context.Background())
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := &Deliverer{Config: testConfig(), Client: server.Client()}
	require.NoError(t, d.Deliver(context.Background(), sender, []byte(`{"type":"Follow"}`), server.URL+"/inbox"))

	require.NotNil(t, received)
	assert.Equal(t, []byte(`{"type":"Follow"}`), body)
	assert.Contains(t, received.Header.Get("Content-Type"), "activity")
	assert.Contains(t, received.Header.Get("Signature"), sender.APID+"#main-key")
	assert.NotEmpty(t, received.Header.Get("Digest"))
	assert.NotEmpty(t, received.Header.Get("Date"))
}

func TestDeliverRejected(t *testing.T) {
	kv := &memKV{}
	sender := testKeyPair(t, kv)

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	d := &Deliverer{Config: testConfig(), Client: server.Client()}
	err := d.Deliver(context.Background(), sender, []byte(`{}`), server.URL+"/inbox")

	var delivery *queue.DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, http.StatusForbidden, delivery.StatusCode)
	assert.False(t, queue.Retryable(err))
}

func TestDeliverInvalidInbox(t *testing.T) {
	kv := &memKV{}
	sender := testKeyPair(t, kv)
	d := &Deliverer{Config: testConfig()}

	for _, inbox := range []string{
		"http://mastodon.example/inbox",
		"https:///inbox",
		"not a url at all\x00",
	} {
		err := d.Deliver(context.Background(), sender, []byte(`{}`), inbox)
		require.Error(t, err, inbox)

		var delivery *queue.DeliveryError
		assert.False(t, errors.As(err, &delivery), inbox)
	}
}

func TestDeliverNoKey(t *testing.T) {
	kv := &memKV{}
	sender := testKeyPair(t, kv)
	sender.APPrivateKey = ""

	d := &Deliverer{Config: testConfig()}
	err := d.Deliver(context.Background(), sender, []byte(`{}`), "https://mastodon.example/inbox")
	assert.ErrorContains(t, err, "no private key")
}
