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

package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fedibox/fedibox/domain"
)

func TestSubscriberOrder(t *testing.T) {
	b := New()

	var calls []string
	b.Subscribe("first", func(ctx context.Context, event domain.Event) error {
		calls = append(calls, "first:"+event.EventName())
		return nil
	})
	b.Subscribe("second", func(ctx context.Context, event domain.Event) error {
		calls = append(calls, "second:"+event.EventName())
		return nil
	})

	b.PublishSync(
		context.Background(),
		domain.AccountFollowed{FollowerID: 1, FollowingID: 2},
		domain.AccountUnfollowed{FollowerID: 1, FollowingID: 2},
	)

	assert.Equal(t, []string{
		"first:account.followed",
		"second:account.followed",
		"first:account.unfollowed",
		"second:account.unfollowed",
	}, calls)
}

func TestSubscriberErrorIsolation(t *testing.T) {
	b := New()

	b.Subscribe("failing", func(ctx context.Context, event domain.Event) error {
		return errors.New("projection broken")
	})

	var called bool
	b.Subscribe("after", func(ctx context.Context, event domain.Event) error {
		called = true
		return nil
	})

	b.PublishSync(context.Background(), domain.AccountFollowed{FollowerID: 1, FollowingID: 2})
	assert.True(t, called)
}

func TestPublishAsync(t *testing.T) {
	b := New()

	done := make(chan string, 2)
	b.Subscribe("collect", func(ctx context.Context, event domain.Event) error {
		done <- event.EventName()
		return nil
	})

	b.Publish(
		context.Background(),
		domain.AccountFollowed{FollowerID: 1, FollowingID: 2},
		domain.AccountUnfollowed{FollowerID: 1, FollowingID: 2},
	)
	b.Wait()

	assert.Equal(t, "account.followed", <-done)
	assert.Equal(t, "account.unfollowed", <-done)
}

func TestPublishNothing(t *testing.T) {
	b := New()
	b.Subscribe("never", func(ctx context.Context, event domain.Event) error {
		t.Fatal("called without events")
		return nil
	})

	b.Publish(context.Background())
	b.Wait()
}
