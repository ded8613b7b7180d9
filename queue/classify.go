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
	"net/http"
	"regexp"
	"strconv"
)

// DeliveryError reports a failed delivery attempt to a remote inbox,
// carrying the response status so the queue can classify it.
type DeliveryError struct {
	Inbox      string
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver to %s (%d %s)", e.Inbox, e.StatusCode, http.StatusText(e.StatusCode))
}

var statusRegex = regexp.MustCompile(`\((\d{3})[^)]*\)`)

// Retryable classifies a handler error. Server-side failures,
// timeouts, rate limiting and anything unrecognised are retryable;
// the remaining 4xx statuses are permanent, meaning the remote inbox
// rejected the activity and will keep rejecting it.
func Retryable(err error) bool {
	status := 0

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		status = deliveryErr.StatusCode
	} else if m := statusRegex.FindStringSubmatch(err.Error()); m != nil {
		// Fall back to a status embedded in the message, for
		// errors that crossed a serialization boundary.
		status, _ = strconv.Atoi(m[1])
	}

	if status == 0 {
		return true
	}
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests {
		return true
	}
	return status < 400 || status >= 500
}
