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

package db

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"database/sql"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fedibox/fedibox/domain"
)

// Sites is the tenant registry. Each site owns exactly one internal
// account, created together with the site in one transaction.
type Sites struct {
	DB *sql.DB
}

// ByHost returns the site for a lowercased host.
func (s *Sites) ByHost(ctx context.Context, host string) (*domain.Site, error) {
	var site domain.Site
	if err := s.DB.QueryRowContext(
		ctx,
		`SELECT id, host, webhook_secret, COALESCE(ghost_uuid, ''), disabled FROM sites WHERE host = ?`,
		strings.ToLower(host),
	).Scan(&site.ID, &site.Host, &site.WebhookSecret, &site.GhostUUID, &site.Disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.E(domain.ErrNotFound, "no site for host %s", host)
		}
		return nil, fmt.Errorf("failed to fetch site %s: %w", host, err)
	}
	return &site, nil
}

// ByID returns the site with the given row id.
func (s *Sites) ByID(ctx context.Context, id int64) (*domain.Site, error) {
	var site domain.Site
	if err := s.DB.QueryRowContext(
		ctx,
		`SELECT id, host, webhook_secret, COALESCE(ghost_uuid, ''), disabled FROM sites WHERE id = ?`,
		id,
	).Scan(&site.ID, &site.Host, &site.WebhookSecret, &site.GhostUUID, &site.Disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.E(domain.ErrNotFound, "no site %d", id)
		}
		return nil, fmt.Errorf("failed to fetch site %d: %w", id, err)
	}
	return &site, nil
}

// Create provisions a site together with its internal account: a
// fresh RSA keypair, a random webhook secret and the actor URLs
// derived from the host. Idempotent on host: a second call returns
// the existing site.
func (s *Sites) Create(ctx context.Context, host, username string) (*domain.Site, error) {
	host = strings.ToLower(host)

	if site, err := s.ByHost(ctx, host); err == nil {
		return site, nil
	} else if !domain.IsKind(err, domain.ErrNotFound) {
		return nil, err
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key for %s: %w", host, err)
	}

	privPem := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	pubDer, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key for %s: %w", host, err)
	}
	pubPem := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDer,
	})

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	prefix := fmt.Sprintf("https://%s/.ghost/activitypub", host)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO sites (host, webhook_secret) VALUES (?, ?)`,
		host,
		hex.EncodeToString(secret),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert site %s: %w", host, err)
	}
	siteID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch site id: %w", err)
	}

	res, err = tx.ExecContext(
		ctx,
		`INSERT INTO accounts (uuid, username, name, ap_id, ap_inbox_url, ap_shared_inbox_url, ap_outbox_url, ap_followers_url, ap_following_url, ap_liked_url, ap_public_key, ap_private_key, url, domain) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		username,
		username,
		fmt.Sprintf("%s/users/%s", prefix, username),
		fmt.Sprintf("%s/inbox/%s", prefix, username),
		fmt.Sprintf("%s/inbox/%s", prefix, username),
		fmt.Sprintf("%s/outbox/%s", prefix, username),
		fmt.Sprintf("%s/followers/%s", prefix, username),
		fmt.Sprintf("%s/following/%s", prefix, username),
		fmt.Sprintf("%s/liked/%s", prefix, username),
		string(pubPem),
		string(privPem),
		fmt.Sprintf("https://%s", host),
		host,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert account for %s: %w", host, err)
	}
	accountID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account id: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO users (site_id, account_id) VALUES (?, ?)`,
		siteID,
		accountID,
	); err != nil {
		return nil, fmt.Errorf("failed to insert user for %s: %w", host, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit site %s: %w", host, err)
	}

	return s.ByHost(ctx, host)
}

// SetGhostUUID records the blog instance id observed in webhooks.
func (s *Sites) SetGhostUUID(ctx context.Context, siteID int64, ghostUUID string) error {
	if _, err := s.DB.ExecContext(
		ctx,
		`UPDATE sites SET ghost_uuid = ? WHERE id = ?`,
		ghostUUID,
		siteID,
	); err != nil {
		return fmt.Errorf("failed to set ghost uuid for site %d: %w", siteID, err)
	}
	return nil
}

// SetDisabled toggles the tenant kill switch.
func (s *Sites) SetDisabled(ctx context.Context, siteID int64, disabled bool) error {
	if _, err := s.DB.ExecContext(
		ctx,
		`UPDATE sites SET disabled = ? WHERE id = ?`,
		disabled,
		siteID,
	); err != nil {
		return fmt.Errorf("failed to toggle site %d: %w", siteID, err)
	}
	return nil
}
