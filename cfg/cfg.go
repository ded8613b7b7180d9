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

// Package cfg defines the fedibox configuration file format and defaults.
package cfg

import (
	"time"
)

// Config represents a fedibox configuration file.
type Config struct {
	DatabaseDSN string
	Addr        string

	MaxRequestBodySize  int64
	MaxRequestAge       time.Duration
	MaxResponseBodySize int64

	DeliveryTimeout        time.Duration
	DeliveryRequestsPerSec float64
	DeliveryBurst          int

	WebhookTolerance time.Duration

	ItemsPerPage int

	ResolverCacheTTL        time.Duration
	ResolverMaxIdleConns    int
	ResolverIdleConnTimeout time.Duration

	MaxRecipients int
}

// FillDefaults replaces missing or invalid settings with defaults.
func (c *Config) FillDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}

	if c.MaxRequestBodySize <= 0 {
		c.MaxRequestBodySize = 1024 * 1024
	}

	if c.MaxRequestAge <= 0 {
		c.MaxRequestAge = time.Minute * 5
	}

	if c.MaxResponseBodySize <= 0 {
		c.MaxResponseBodySize = 1024 * 1024
	}

	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = time.Second * 30
	}

	if c.DeliveryRequestsPerSec <= 0 {
		c.DeliveryRequestsPerSec = 4
	}

	if c.DeliveryBurst <= 0 {
		c.DeliveryBurst = 8
	}

	if c.WebhookTolerance <= 0 {
		c.WebhookTolerance = time.Minute * 5
	}

	if c.ItemsPerPage <= 0 {
		c.ItemsPerPage = 30
	}

	if c.ResolverCacheTTL <= 0 {
		c.ResolverCacheTTL = time.Hour * 24 * 3
	}

	if c.ResolverMaxIdleConns <= 0 {
		c.ResolverMaxIdleConns = 128
	}

	if c.ResolverIdleConnTimeout <= 0 {
		c.ResolverIdleConnTimeout = time.Minute
	}

	if c.MaxRecipients <= 0 {
		c.MaxRecipients = 10
	}
}
