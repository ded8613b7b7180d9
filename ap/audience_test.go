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

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudienceList(t *testing.T) {
	var a Audience
	require.NoError(t, json.Unmarshal([]byte(`["a", "b", "a"]`), &a))

	assert.Equal(t, []string{"a", "b"}, a.Keys())
	assert.True(t, a.Contains("a"))
	assert.False(t, a.Contains("c"))
}

func TestAudienceBareString(t *testing.T) {
	var a Audience
	require.NoError(t, json.Unmarshal([]byte(`"a"`), &a))

	assert.Equal(t, []string{"a"}, a.Keys())
}

func TestAudienceMarshalOrder(t *testing.T) {
	var a Audience
	a.Add("c")
	a.Add("a")
	a.Add("b")
	a.Add("a")

	buf, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `["c", "a", "b"]`, string(buf))
}

func TestAudienceMarshalEmpty(t *testing.T) {
	var a Audience
	buf, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(buf))
	assert.True(t, a.IsZero())
}
