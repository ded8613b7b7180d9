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
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-fed/httpsig"
	"golang.org/x/time/rate"

	"github.com/fedibox/fedibox/cfg"
	"github.com/fedibox/fedibox/domain"
	"github.com/fedibox/fedibox/queue"
)

// Deliverer POSTs signed activities to remote inboxes. Requests to
// each remote host are rate limited separately.
type Deliverer struct {
	Config *cfg.Config
	Client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func (d *Deliverer) limiter(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.limiters == nil {
		d.limiters = map[string]*rate.Limiter{}
	}
	l, ok := d.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(d.Config.DeliveryRequestsPerSec), d.Config.DeliveryBurst)
		d.limiters[host] = l
	}
	return l
}

// Deliver signs body with the sender's key and POSTs it to inbox.
// Non-2xx responses surface as a [queue.DeliveryError] so the queue
// can classify them.
func (d *Deliverer) Deliver(ctx context.Context, sender *domain.Account, body []byte, inbox string) error {
	u, err := url.Parse(inbox)
	if err != nil {
		return fmt.Errorf("failed to parse inbox %s: %w", inbox, err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("invalid inbox: %s", inbox)
	}

	if err := d.limiter(u.Host).Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, d.Config.DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inbox, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request to %s: %w", inbox, err)
	}
	req.Header.Set("Content-Type", `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`)
	req.Header.Set("Host", u.Host)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	if err := sign(sender, req, body); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Delivering activity", "inbox", inbox, "sender", sender.APID)

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver to %s: %w", inbox, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, d.Config.MaxResponseBodySize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &queue.DeliveryError{Inbox: inbox, StatusCode: resp.StatusCode}
	}

	return nil
}

func sign(sender *domain.Account, req *http.Request, body []byte) error {
	block, _ := pem.Decode([]byte(sender.APPrivateKey))
	if block == nil {
		return fmt.Errorf("no private key for %s", sender.APID)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("failed to parse private key of %s: %w", sender.APID, err)
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to build signer: %w", err)
	}

	if err := signer.SignRequest(priv, sender.APID+"#main-key", req, body); err != nil {
		return fmt.Errorf("failed to sign request to %s: %w", req.URL, err)
	}
	return nil
}
