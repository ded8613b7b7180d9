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

package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	for _, tc := range []struct {
		name      string
		err       error
		retryable bool
	}{
		{"plain error", errors.New("connection refused"), true},
		{"500", &DeliveryError{Inbox: "https://a.example/inbox", StatusCode: 500}, true},
		{"503", &DeliveryError{Inbox: "https://a.example/inbox", StatusCode: 503}, true},
		{"408", &DeliveryError{Inbox: "https://a.example/inbox", StatusCode: 408}, true},
		{"429", &DeliveryError{Inbox: "https://a.example/inbox", StatusCode: 429}, true},
		{"400", &DeliveryError{Inbox: "https://a.example/inbox", StatusCode: 400}, false},
		{"403", &DeliveryError{Inbox: "https://a.example/inbox", StatusCode: 403}, false},
		{"404", &DeliveryError{Inbox: "https://a.example/inbox", StatusCode: 404}, false},
		{"410", &DeliveryError{Inbox: "https://a.example/inbox", StatusCode: 410}, false},
		{"wrapped 404", fmt.Errorf("handler: %w", &DeliveryError{Inbox: "https://a.example/inbox", StatusCode: 404}), false},
		{"serialized 404", errors.New("failed to deliver to https://a.example/inbox (404 Not Found)"), false},
		{"serialized 502", errors.New("failed to deliver to https://a.example/inbox (502 Bad Gateway)"), true},
		{"three digits but not a status", errors.New("read 404 bytes"), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, Retryable(tc.err))
		})
	}
}

func TestDeliveryErrorMessage(t *testing.T) {
	err := &DeliveryError{Inbox: "https://a.example/inbox", StatusCode: 404}
	assert.Equal(t, "failed to deliver to https://a.example/inbox (404 Not Found)", err.Error())
}
