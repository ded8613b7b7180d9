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

// Package domain holds the Account and Post aggregates, the events
// they emit and the error taxonomy shared by all layers.
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind tags a domain failure. Transport handlers map kinds to
// HTTP status codes; repositories and services return them unchanged.
type ErrorKind string

const (
	ErrNotFound          ErrorKind = "not-found"
	ErrInvalidType       ErrorKind = "invalid-type"
	ErrSelfFollow        ErrorKind = "self-follow"
	ErrAlreadyFollowing  ErrorKind = "already-following"
	ErrNotFollowing      ErrorKind = "not-following"
	ErrMissingContent    ErrorKind = "missing-content"
	ErrPrivateContent    ErrorKind = "private-content"
	ErrPostAlreadyExists ErrorKind = "post-already-exists"
	ErrNotAuthor         ErrorKind = "not-author"
	ErrUpstream          ErrorKind = "upstream-error"
	ErrNotAPost          ErrorKind = "not-a-post"
	ErrMissingAuthor     ErrorKind = "missing-author"
	ErrLookup            ErrorKind = "lookup-error"
	ErrSignatureInvalid  ErrorKind = "signature-invalid"
	ErrSiteDisabled      ErrorKind = "site-disabled"
	ErrQueueNotReady     ErrorKind = "queue-not-ready"
)

// Error is a tagged domain error.
type Error struct {
	Kind ErrorKind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error {
	return e.err
}

// E builds a tagged error with an optional detail message.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error.
func Wrap(kind ErrorKind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, msg: err.Error(), err: err}
}

// KindOf extracts the kind of an error, or "" for untagged errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
