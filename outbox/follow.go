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
	"context"

	"github.com/fedibox/fedibox/ap"
	"github.com/fedibox/fedibox/domain"
)

// Follow makes the site's account follow a target given as a handle
// or actor URL. External targets receive a signed Follow activity;
// internal targets are recorded directly.
func (s *Service) Follow(ctx context.Context, site *domain.Site, follower *domain.Account, target string) error {
	targetAccount, err := s.resolveTarget(ctx, target)
	if err != nil {
		return err
	}

	if targetAccount.ID == follower.ID {
		return domain.E(domain.ErrSelfFollow, "%s cannot follow itself", follower.APID)
	}

	following, err := s.Follows.IsFollowing(ctx, follower.ID, targetAccount.ID)
	if err != nil {
		return err
	}
	if following {
		return domain.E(domain.ErrAlreadyFollowing, "%s already follows %s", follower.APID, targetAccount.APID)
	}

	follower.Follow(targetAccount)
	if err := s.Accounts.Save(ctx, follower); err != nil {
		return err
	}

	if targetAccount.IsInternal() {
		return nil
	}

	id, err := activityID(site.Origin(), string(ap.Follow))
	if err != nil {
		return err
	}

	activity := directActivity(id, ap.Follow, follower, targetAccount.APID, targetAccount.APID)
	return s.dispatch(ctx, follower, activity, targetAccount.APInbox)
}

// Unfollow removes a follow edge. External targets receive
// Undo(Follow).
func (s *Service) Unfollow(ctx context.Context, site *domain.Site, follower *domain.Account, target string) error {
	targetAccount, err := s.resolveTarget(ctx, target)
	if err != nil {
		return err
	}

	if targetAccount.ID == follower.ID {
		return domain.E(domain.ErrSelfFollow, "%s cannot unfollow itself", follower.APID)
	}

	following, err := s.Follows.IsFollowing(ctx, follower.ID, targetAccount.ID)
	if err != nil {
		return err
	}
	if !following {
		return domain.E(domain.ErrNotFollowing, "%s does not follow %s", follower.APID, targetAccount.APID)
	}

	follower.Unfollow(targetAccount)
	if err := s.Accounts.Save(ctx, follower); err != nil {
		return err
	}

	if targetAccount.IsInternal() {
		return nil
	}

	id, err := activityID(site.Origin(), string(ap.Undo))
	if err != nil {
		return err
	}
	innerID, err := activityID(site.Origin(), string(ap.Follow))
	if err != nil {
		return err
	}

	inner := directActivity(innerID, ap.Follow, follower, targetAccount.APID, targetAccount.APID)
	inner.Context = nil

	activity := directActivity(id, ap.Undo, follower, targetAccount.APID, inner)
	return s.dispatch(ctx, follower, activity, targetAccount.APInbox)
}
