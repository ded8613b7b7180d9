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

package outbox

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// activityID mints the canonical URL of a locally built activity:
// time-ordered so the KV store lists activities roughly
// chronologically.
func activityID(origin, kind string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate activity ID: %w", err)
	}

	return fmt.Sprintf("%s/.ghost/activitypub/%s/%s", origin, strings.ToLower(kind), id.String()), nil
}
