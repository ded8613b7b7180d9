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

// AcceptFollow acknowledges an incoming Follow: the original
// activity is echoed back as the object of an Accept signed by the
// followee.
func (s *Service) AcceptFollow(ctx context.Context, site *domain.Site, followee *domain.Account, follow *ap.Activity, followerInbox string) error {
	id, err := activityID(site.Origin(), string(ap.Accept))
	if err != nil {
		return err
	}

	inner := &ap.Activity{
		ID:     follow.ID,
		Type:   ap.Follow,
		Actor:  follow.Actor,
		Object: followee.APID,
	}

	activity := directActivity(id, ap.Accept, followee, follow.Actor, inner)
	return s.dispatch(ctx, followee, activity, followerInbox)
}
