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
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/domain"
)

// verifyRequest checks an inbox POST's HTTP signature: the Date
// header must be recent, the Digest header must match the body, and
// the signature must verify against the public key named by keyId.
// The sender's actor document is returned on success.
func (l *Listener) verifyRequest(ctx context.Context, r *http.Request, body []byte) (*ap.Actor, error) {
	date := r.Header.Get("Date")
	if date == "" {
		return nil, domain.E(domain.ErrSignatureInvalid, "no date header")
	}
	sent, err := time.Parse(http.TimeFormat, date)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSignatureInvalid, err)
	}
	now := time.Now()
	if sent.Before(now.Add(-l.Config.MaxRequestAge)) || sent.After(now.Add(l.Config.MaxRequestAge)) {
		return nil, domain.E(domain.ErrSignatureInvalid, "request is too old or too new: %s", date)
	}

	if err := verifyDigest(r.Header.Get("Digest"), body); err != nil {
		return nil, err
	}

	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSignatureInvalid, err)
	}

	actor, err := l.Resolver.ResolveActor(ctx, verifier.KeyId())
	if err != nil {
		return nil, err
	}

	pub, err := parsePublicKey(actor.PublicKey.PublicKeyPem)
	if err != nil {
		return nil, err
	}

	if err := verifier.Verify(pub, httpsig.RSA_SHA256); err != nil {
		return nil, domain.Wrap(domain.ErrSignatureInvalid, err)
	}

	return actor, nil
}

func verifyDigest(header string, body []byte) error {
	if header == "" {
		return domain.E(domain.ErrSignatureInvalid, "no digest header")
	}

	algo, digest, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(algo, "SHA-256") {
		return domain.E(domain.ErrSignatureInvalid, "unsupported digest: %s", header)
	}

	raw := sha256.Sum256(body)
	expected := base64.StdEncoding.EncodeToString(raw[:])
	if subtle.ConstantTimeCompare([]byte(digest), []byte(expected)) == 0 {
		return domain.E(domain.ErrSignatureInvalid, "digest mismatch")
	}
	return nil
}

func parsePublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, domain.E(domain.ErrSignatureInvalid, "no public key")
	}

	if block.Type == "RSA PUBLIC KEY" {
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, domain.Wrap(domain.ErrSignatureInvalid, err)
		}
		return pub, nil
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSignatureInvalid, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, domain.E(domain.ErrSignatureInvalid, "unsupported key type %T", key)
	}
	return pub, nil
}
