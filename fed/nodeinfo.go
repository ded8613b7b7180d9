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
	"fmt"
	"net/http"
)

const version = "0.1.0"

// nodeinfoIndex points discovery at the versioned document.
func (l *Listener) nodeinfoIndex(w http.ResponseWriter, r *http.Request) {
	site := siteFrom(r.Context())

	w.Header().Set("Content-Type", "application/json")
	l.writeJSON(w, r, map[string]any{
		"links": []map[string]string{
			{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.1",
				"href": fmt.Sprintf("https://%s/nodeinfo/2.1", site.Host),
			},
		},
	})
}

// nodeinfo serves the nodeinfo 2.1 document.
func (l *Listener) nodeinfo(w http.ResponseWriter, r *http.Request) {
	site := siteFrom(r.Context())

	account, err := l.Accounts.BySite(r.Context(), site.ID)
	if err != nil {
		l.error(w, r, err)
		return
	}

	posts, err := l.Follows.OutboxCount(r.Context(), account.ID)
	if err != nil {
		l.error(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	l.writeJSON(w, r, map[string]any{
		"version": "2.1",
		"software": map[string]string{
			"name":    "fedibox",
			"version": version,
		},
		"protocols": []string{"activitypub"},
		"services": map[string]any{
			"inbound":  []string{},
			"outbound": []string{},
		},
		"openRegistrations": false,
		"usage": map[string]any{
			"users":      map[string]int{"total": 1},
			"localPosts": posts,
		},
		"metadata": map[string]any{},
	})
}
