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

type ActorType string

const (
	Person      ActorType = "Person"
	Service     ActorType = "Service"
	Application ActorType = "Application"
)

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type Actor struct {
	Context           any               `json:"@context,omitempty"`
	ID                string            `json:"id"`
	Type              ActorType         `json:"type"`
	PreferredUsername string            `json:"preferredUsername"`
	Name              string            `json:"name,omitempty"`
	Summary           string            `json:"summary,omitempty"`
	URL               string            `json:"url,omitempty"`
	Inbox             string            `json:"inbox"`
	Outbox            string            `json:"outbox"`
	Followers         string            `json:"followers,omitempty"`
	Following         string            `json:"following,omitempty"`
	Liked             string            `json:"liked,omitempty"`
	Endpoints         map[string]string `json:"endpoints,omitempty"`
	Icon              *Attachment       `json:"icon,omitempty"`
	Image             *Attachment       `json:"image,omitempty"`
	PublicKey         PublicKey         `json:"publicKey"`
}

// SharedInbox returns the actor's shared inbox, or "" if it has none.
func (a *Actor) SharedInbox() string {
	if a.Endpoints == nil {
		return ""
	}
	return a.Endpoints["sharedInbox"]
}
