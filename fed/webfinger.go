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
	"strings"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/domain"
)

// webfinger answers discovery requests for the tenant's actor.
func (l *Listener) webfinger(w http.ResponseWriter, r *http.Request) {
	site := siteFrom(r.Context())

	resource := r.URL.Query().Get("resource")
	acct, ok := strings.CutPrefix(resource, "acct:")
	if !ok {
		l.error(w, r, domain.E(domain.ErrInvalidType, "invalid resource: %s", resource))
		return
	}

	user, host, err := ap.ParseHandle(acct)
	if err != nil {
		l.error(w, r, domain.Wrap(domain.ErrInvalidType, err))
		return
	}
	if host != site.Host {
		l.error(w, r, domain.E(domain.ErrNotFound, "no user %s@%s", user, host))
		return
	}

	account, err := l.Accounts.BySite(r.Context(), site.ID)
	if err != nil {
		l.error(w, r, err)
		return
	}
	if account.Username != user {
		l.error(w, r, domain.E(domain.ErrNotFound, "no user %s@%s", user, host))
		return
	}

	w.Header().Set("Content-Type", "application/jrd+json")
	l.writeJSON(w, r, map[string]any{
		"subject": fmt.Sprintf("acct:%s@%s", account.Username, site.Host),
		"aliases": []string{account.APID},
		"links": []map[string]string{
			{
				"rel":  "self",
				"type": apContentType,
				"href": account.APID,
			},
			{
				"rel":  "http://webfinger.net/rel/profile-page",
				"type": "text/html",
				"href": account.URL,
			},
		},
	})
}
