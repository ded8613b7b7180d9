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

package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedMap(t *testing.T) {
	m := make(OrderedMap[string, int])
	m.Store("c", 3)
	m.Store("a", 1)
	m.Store("b", 2)
	m.Store("a", 9)

	assert.Equal(t, []string{"c", "a", "b"}, m.Keys())
	assert.True(t, m.Contains("a"))
	assert.False(t, m.Contains("x"))

	var keys []string
	var values []int
	m.Range(func(k string, v int) bool {
		keys = append(keys, k)
		values = append(values, v)
		return true
	})
	assert.Equal(t, []string{"c", "a", "b"}, keys)
	assert.Equal(t, []int{3, 1, 2}, values)

	var stopped []string
	m.Range(func(k string, v int) bool {
		stopped = append(stopped, k)
		return false
	})
	assert.Equal(t, []string{"c"}, stopped)
}

func TestCanonicalize(t *testing.T) {
	canonical, err := Canonicalize([]byte(`{"b": 2, "a": 1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(canonical))

	again, err := Canonicalize(canonical)
	require.NoError(t, err)
	assert.Equal(t, canonical, again)
}

func TestCanonicalizeValue(t *testing.T) {
	canonical, err := CanonicalizeValue(map[string]any{"b": "x", "a": []int{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,2],"b":"x"}`, string(canonical))
}
