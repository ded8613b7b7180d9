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

import "strings"

// Account is an actor: internal (owned by a Site, holds a private
// key) or external (discovered via WebFinger or an incoming
// activity).
type Account struct {
	ID             int64
	UUID           string
	Username       string
	Name           string
	Bio            string
	AvatarURL      string
	BannerImageURL string
	URL            string

	APID          string
	APInbox       string
	APSharedInbox string
	APOutbox      string
	APFollowers   string
	APFollowing   string
	APLiked       string
	APPublicKey   string
	APPrivateKey  string

	events []Event
}

// IsInternal reports whether the account is owned by a local site.
func (a *Account) IsInternal() bool {
	return a.APPrivateKey != ""
}

// Domain returns the lowercased host of the account's canonical URL.
func (a *Account) Domain() string {
	rest, ok := strings.CutPrefix(a.APID, "https://")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}

// Follow records a follow of another account. Following oneself is a
// no-op: no event is emitted and no state changes.
func (a *Account) Follow(target *Account) {
	if target.ID == a.ID {
		return
	}
	a.record(AccountFollowed{FollowerID: a.ID, FollowingID: target.ID})
}

// Unfollow records removal of a follow. Self-unfollow is a no-op.
func (a *Account) Unfollow(target *Account) {
	if target.ID == a.ID {
		return
	}
	a.record(AccountUnfollowed{FollowerID: a.ID, FollowingID: target.ID})
}

// Block records a block of another account. Self-block is a no-op.
// The repository severs follows in both directions when it applies
// the event.
func (a *Account) Block(target *Account) {
	if target.ID == a.ID {
		return
	}
	a.record(AccountBlocked{BlockerID: a.ID, BlockedID: target.ID})
}

// Unblock records removal of a block. Self-unblock is a no-op.
func (a *Account) Unblock(target *Account) {
	if target.ID == a.ID {
		return
	}
	a.record(AccountUnblocked{BlockerID: a.ID, BlockedID: target.ID})
}

// BlockDomain records a block of every account on a domain.
func (a *Account) BlockDomain(domain string) {
	if domain == "" {
		return
	}
	a.record(DomainBlocked{BlockerID: a.ID, Domain: strings.ToLower(domain)})
}

// UnblockDomain records removal of a domain block.
func (a *Account) UnblockDomain(domain string) {
	if domain == "" {
		return
	}
	a.record(DomainUnblocked{BlockerID: a.ID, Domain: strings.ToLower(domain)})
}

func (a *Account) record(e Event) {
	a.events = append(a.events, e)
}

// PullEvents returns and clears the recorded events, in order.
func (a *Account) PullEvents() []Event {
	events := a.events
	a.events = nil
	return events
}

// Restore puts pulled events back, used when a save fails before
// commit so a retry sees the same pending events.
func (a *Account) Restore(events []Event) {
	a.events = append(events, a.events...)
}
