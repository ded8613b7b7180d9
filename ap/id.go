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

package ap

import (
	"fmt"
	"net/url"
	"strings"
)

// Origin returns the scheme and host of an ID URL.
func Origin(id string) (string, error) {
	u, err := url.Parse(id)
	if err != nil {
		return "", fmt.Errorf("failed to parse ID %s: %w", id, err)
	}

	if u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("invalid ID: %s", id)
	}

	return fmt.Sprintf("https://%s", u.Host), nil
}

// Host returns the lowercased host of an ID URL, or "" if invalid.
func Host(id string) string {
	u, err := url.Parse(id)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// ParseHandle splits a fediverse handle like "@alice@mastodon.example"
// or "alice@mastodon.example" into user and host.
func ParseHandle(handle string) (string, string, error) {
	trimmed := strings.TrimPrefix(handle, "@")
	fields := strings.Split(trimmed, "@")
	if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
		return "", "", fmt.Errorf("invalid handle: %s", handle)
	}
	return fields[0], strings.ToLower(fields[1]), nil
}
