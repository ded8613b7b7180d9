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

package domain

import "fmt"

// Site is a tenant: one HTTP host with a single default internal
// account.
type Site struct {
	ID            int64
	Host          string
	WebhookSecret string
	GhostUUID     string
	Disabled      bool
}

// Origin returns the site's https origin.
func (s *Site) Origin() string {
	return fmt.Sprintf("https://%s", s.Host)
}
