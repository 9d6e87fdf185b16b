// Copyright 2025 The gpm Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerys/gpm/internal/errors"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.list")
	content := `# package remotes, order matters
ssh://git@example.com/first.git

https://example.com/second.git
  # indented comment is still skipped
  file:///srv/third
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	list, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ssh://git@example.com/first.git",
		"https://example.com/second.git",
		"file:///srv/third",
	}, list.Remotes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "sources.list"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Sources))
}
