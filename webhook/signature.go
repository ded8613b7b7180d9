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

// Package webhook ingests blog lifecycle webhooks: it authenticates
// the HMAC signature and turns the payload into outbox operations.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/fedibox/fedibox/domain"
)

// parseSignature splits the signature header
// "sha256=<hex>, t=<unix-ms>" into its parts.
func parseSignature(header string) (string, int64, error) {
	var digest string
	var timestamp int64

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "sha256":
			digest = value
		case "t":
			var err error
			timestamp, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return "", 0, domain.E(domain.ErrSignatureInvalid, "invalid timestamp: %s", value)
			}
		}
	}

	if digest == "" || timestamp == 0 {
		return "", 0, domain.E(domain.ErrSignatureInvalid, "incomplete signature header")
	}
	return digest, timestamp, nil
}

// VerifySignature authenticates a webhook body against the tenant's
// secret. The signed input is the body concatenated with the
// millisecond timestamp, which must be within tolerance of now.
func VerifySignature(header string, body []byte, secret string, tolerance time.Duration, now time.Time) error {
	digest, timestamp, err := parseSignature(header)
	if err != nil {
		return err
	}

	sent := time.UnixMilli(timestamp)
	if sent.Before(now.Add(-tolerance)) || sent.After(now.Add(tolerance)) {
		return domain.E(domain.ErrSignatureInvalid, "timestamp out of tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(digest), []byte(expected)) {
		return domain.E(domain.ErrSignatureInvalid, "signature mismatch")
	}
	return nil
}
