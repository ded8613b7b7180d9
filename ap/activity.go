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

// Package ap implements the subset of ActivityStreams 2.0 needed to
// federate blog content: activities, actors, objects and audiences.
package ap

import (
	"encoding/json"
	"fmt"
)

type ActivityType string

const (
	Create   ActivityType = "Create"
	Update   ActivityType = "Update"
	Delete   ActivityType = "Delete"
	Follow   ActivityType = "Follow"
	Accept   ActivityType = "Accept"
	Reject   ActivityType = "Reject"
	Undo     ActivityType = "Undo"
	Like     ActivityType = "Like"
	Announce ActivityType = "Announce"
)

// Public is the special collection that addresses an activity to the world.
const Public = "https://www.w3.org/ns/activitystreams#Public"

// Context is the JSON-LD context sent with every outgoing activity.
var Context = []string{
	"https://www.w3.org/ns/activitystreams",
	"https://w3id.org/security/v1",
}

type anyActivity struct {
	ID        string          `json:"id"`
	Type      ActivityType    `json:"type"`
	Actor     string          `json:"actor"`
	Object    json.RawMessage `json:"object"`
	To        Audience        `json:"to"`
	CC        Audience        `json:"cc"`
	Published Time            `json:"published"`
}

// Activity is a single ActivityPub activity.
//
// Object is polymorphic: an inner *Activity (Undo, Accept, Announce),
// an *Object (Create, Update, Delete) or a bare ID string (Follow,
// Like, Delete, Announce).
type Activity struct {
	Context   any          `json:"@context,omitempty"`
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	Actor     string       `json:"actor"`
	Object    any          `json:"object"`
	To        Audience     `json:"to,omitzero"`
	CC        Audience     `json:"cc,omitzero"`
	Published Time         `json:"published,omitzero"`
}

func (a *Activity) UnmarshalJSON(b []byte) error {
	var common anyActivity
	if err := json.Unmarshal(b, &common); err != nil {
		return err
	}

	a.ID = common.ID
	a.Type = common.Type
	a.Actor = common.Actor
	a.To = common.To
	a.CC = common.CC
	a.Published = common.Published

	if len(common.Object) == 0 {
		a.Object = nil
		return nil
	}

	var inner Activity
	var object Object
	var link string
	if err := json.Unmarshal(common.Object, &inner); err == nil && knownActivityType(inner.Type) {
		a.Object = &inner
	} else if err := json.Unmarshal(common.Object, &object); err == nil && object.ID != "" {
		a.Object = &object
	} else if err := json.Unmarshal(common.Object, &link); err == nil {
		a.Object = link
	} else {
		return fmt.Errorf("invalid activity: %s", string(b))
	}

	return nil
}

// knownActivityType tells a nested activity apart from a plain object:
// both share the "type" field, so decoding alone cannot distinguish an
// Undo(Follow) from an Update(Person).
func knownActivityType(t ActivityType) bool {
	switch t {
	case Create, Update, Delete, Follow, Accept, Reject, Undo, Like, Announce:
		return true
	}
	return false
}

// IsPublic reports whether the activity is addressed to the public collection.
func (a *Activity) IsPublic() bool {
	return a.To.Contains(Public) || a.CC.Contains(Public)
}

// ObjectID returns the ID of the activity's object regardless of its shape.
func (a *Activity) ObjectID() string {
	switch o := a.Object.(type) {
	case string:
		return o
	case *Object:
		return o.ID
	case *Activity:
		return o.ID
	}
	return ""
}
