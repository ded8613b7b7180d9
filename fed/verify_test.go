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
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/cfg"
	"github.com/fedibox/fedibox/domain"
)

type memKV struct {
	values map[string][]byte
}

func (m *memKV) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return nil, domain.E(domain.ErrNotFound, "no value for %s", key)
}

func (m *memKV) Set(ctx context.Context, key string, value []byte) error {
	if m.values == nil {
		m.values = map[string][]byte{}
	}
	m.values[key] = value
	return nil
}

func testConfig() *cfg.Config {
	c := &cfg.Config{}
	c.FillDefaults()
	return c
}

// testKeyPair returns an account holding a fresh private key and the
// matching actor document, pre-cached in kv so no fetch happens.
func testKeyPair(t *testing.T, kv *memKV) *domain.Account {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPem := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDer, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPem := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDer})

	const apID = "https://mastodon.example/users/bob"
	cached, err := json.Marshal(cachedActor{
		FetchedAt: time.Now().UTC(),
		Actor: &ap.Actor{
			ID:                apID,
			Type:              ap.Person,
			PreferredUsername: "bob",
			Inbox:             "https://mastodon.example/users/bob/inbox",
			PublicKey:         ap.PublicKey{ID: apID + "#main-key", Owner: apID, PublicKeyPem: string(pubPem)},
		},
	})
	require.NoError(t, err)
	require.NoError(t, kv.Set(context.Background(), "actor:"+apID, cached))

	return &domain.Account{
		ID:           2,
		APID:         apID,
		APPrivateKey: string(privPem),
	}
}

func signedRequest(t *testing.T, sender *domain.Account, body []byte, date time.Time) *http.Request {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, "https://blog.example/.ghost/activitypub/inbox/index", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Host", "blog.example")
	req.Header.Set("Date", date.UTC().Format(http.TimeFormat))
	require.NoError(t, sign(sender, req, body))
	return req
}

func newVerifyListener(kv *memKV) *Listener {
	c := testConfig()
	return &Listener{
		Config:   c,
		Resolver: &Resolver{Config: c, KV: kv},
	}
}

func TestVerifyRequest(t *testing.T) {
	kv := &memKV{}
	sender := testKeyPair(t, kv)
	l := newVerifyListener(kv)

	body := []byte(`{"id":"https://mastodon.example/activities/1","type":"Follow"}`)
	req := signedRequest(t, sender, body, time.Now())

	actor, err := l.verifyRequest(context.Background(), req, body)
	require.NoError(t, err)
	assert.Equal(t, sender.APID, actor.ID)
}

func TestVerifyRequestTamperedBody(t *testing.T) {
	kv := &memKV{}
	sender := testKeyPair(t, kv)
	l := newVerifyListener(kv)

	body := []byte(`{"id":"https://mastodon.example/activities/1","type":"Follow"}`)
	req := signedRequest(t, sender, body, time.Now())

	tampered := append([]byte(nil), body...)
	tampered[0] ^= 1

	_, err := l.verifyRequest(context.Background(), req, tampered)
	assert.True(t, domain.IsKind(err, domain.ErrSignatureInvalid))
}

func TestVerifyRequestStaleDate(t *testing.T) {
	kv := &memKV{}
	sender := testKeyPair(t, kv)
	l := newVerifyListener(kv)

	body := []byte(`{}`)
	req := signedRequest(t, sender, body, time.Now().Add(-time.Hour))

	_, err := l.verifyRequest(context.Background(), req, body)
	assert.True(t, domain.IsKind(err, domain.ErrSignatureInvalid))
}

func TestVerifyRequestNoSignature(t *testing.T) {
	kv := &memKV{}
	l := newVerifyListener(kv)

	body := []byte(`{}`)
	req, err := http.NewRequest(http.MethodPost, "https://blog.example/.ghost/activitypub/inbox/index", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	raw := sha256.Sum256(body)
	req.Header.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(raw[:]))

	_, err = l.verifyRequest(context.Background(), req, body)
	assert.True(t, domain.IsKind(err, domain.ErrSignatureInvalid))
}

func TestVerifyRequestUnknownSigner(t *testing.T) {
	kv := &memKV{}
	sender := testKeyPair(t, kv)

	// An empty cache forces a fetch, which fails without a client.
	l := newVerifyListener(&memKV{})
	l.Resolver.Client = &http.Client{Timeout: time.Millisecond}

	body := []byte(`{}`)
	req := signedRequest(t, sender, body, time.Now())

	_, err := l.verifyRequest(context.Background(), req, body)
	assert.True(t, domain.IsKind(err, domain.ErrLookup))
}

func TestVerifyDigest(t *testing.T) {
	body := []byte("payload")
	raw := sha256.Sum256(body)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(raw[:])

	require.NoError(t, verifyDigest(digest, body))
	assert.True(t, domain.IsKind(verifyDigest(digest, []byte("other")), domain.ErrSignatureInvalid))
	assert.True(t, domain.IsKind(verifyDigest("", body), domain.ErrSignatureInvalid))
	assert.True(t, domain.IsKind(verifyDigest("MD5=abc", body), domain.ErrSignatureInvalid))
}

func TestParsePublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDer, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	pub, err := parsePublicKey(string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDer})))
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.N, pub.N)

	// Some servers publish PKCS#1 keys.
	pub, err = parsePublicKey(string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})))
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.N, pub.N)

	_, err = parsePublicKey("not pem")
	assert.True(t, domain.IsKind(err, domain.ErrSignatureInvalid))
}
