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

package migrations

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsWellFormed(t *testing.T) {
	entries, err := fs.ReadDir(".")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	name := regexp.MustCompile(`^\d{5}_[a-z_]+\.sql$`)
	for _, entry := range entries {
		require.Regexp(t, name, entry.Name())

		raw, err := fs.ReadFile(entry.Name())
		require.NoError(t, err)
		assert.Contains(t, string(raw), "+goose Up", entry.Name())
		assert.Contains(t, string(raw), "+goose Down", entry.Name())
	}
}

// Every column holding a canonical URL is too wide for a plain index
// and gets a SHA-256 hash column instead.
func TestMigrationsHashWideKeys(t *testing.T) {
	for file, column := range map[string]string{
		"00005_delivery.sql": "key_hash",
	} {
		raw, err := fs.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(raw), column+" BINARY(32) GENERATED ALWAYS AS (UNHEX(SHA2(", file)
		assert.NotContains(t, string(raw), "VARCHAR(255)", file)
	}
}
