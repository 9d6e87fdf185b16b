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

package pkg

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagVersion(t *testing.T) {
	testCases := map[string]struct {
		tag     string
		prefix  string
		version string
		ok      bool
	}{
		"simple tag": {
			tag:     "app/1.2.3",
			prefix:  "app",
			version: "1.2.3",
			ok:      true,
		},
		"pre-release": {
			tag:     "app/1.2.3-rc.1",
			prefix:  "app",
			version: "1.2.3-rc.1",
			ok:      true,
		},
		"no slash": {
			tag: "v1.2.3",
			ok:  false,
		},
		"not a version": {
			tag: "app/latest",
			ok:  false,
		},
	}

	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			prefix, v, ok := TagVersion(tc.tag)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.prefix, prefix)
				assert.Equal(t, tc.version, v.Original())
			}
		})
	}
}

func TestMatchTag(t *testing.T) {
	testCases := map[string]struct {
		req      string
		name     string
		tags     []string
		expected string
		ok       bool
	}{
		"highest satisfying wins": {
			req:      "^1.2.0",
			name:     "app",
			tags:     []string{"app/1.2.0", "app/1.2.9", "app/1.3.0"},
			expected: "app/1.2.9",
			ok:       true,
		},
		"caret on zero major is pinned to the minor": {
			req:      "^0.2.3",
			name:     "app",
			tags:     []string{"app/0.2.3", "app/0.2.99", "app/0.3.0"},
			expected: "app/0.2.99",
			ok:       true,
		},
		"tilde is pinned to the minor": {
			req:      "~1.2",
			name:     "app",
			tags:     []string{"app/1.2.0", "app/1.2.99", "app/1.3.0"},
			expected: "app/1.2.99",
			ok:       true,
		},
		"wildcard takes everything": {
			req:      "*",
			name:     "app",
			tags:     []string{"app/0.9.0", "app/1.0.0"},
			expected: "app/1.0.0",
			ok:       true,
		},
		"other packages are ignored": {
			req:      ">=1.0.0",
			name:     "app",
			tags:     []string{"other/9.9.9", "app/1.1.0"},
			expected: "app/1.1.0",
			ok:       true,
		},
		"release beats pre-release": {
			req:      ">=1.0.0",
			name:     "app",
			tags:     []string{"app/1.1.0-rc.1", "app/1.1.0", "app/1.1.0-beta"},
			expected: "app/1.1.0",
			ok:       true,
		},
		"nothing satisfies": {
			req:  "^2.0.0",
			name: "app",
			tags: []string{"app/1.0.0", "app/1.9.9"},
			ok:   false,
		},
		"malformed tags are skipped": {
			req:      ">=0.1.0",
			name:     "app",
			tags:     []string{"app/latest", "nightly", "app/0.1.0"},
			expected: "app/0.1.0",
			ok:       true,
		},
	}

	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			req, err := semver.NewConstraint(tc.req)
			require.NoError(t, err)

			tag, ok := MatchTag(req, tc.name, tc.tags)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.expected, tag)
			}
		})
	}
}

func TestMatchTagDeterministicTieBreak(t *testing.T) {
	req, err := semver.NewConstraint(">=1.0.0")
	require.NoError(t, err)

	// 1.2.0+build1 and 1.2.0+build2 compare equal: lexical order of
	// the tag name decides.
	tag, ok := MatchTag(req, "app", []string{"app/1.2.0+build1", "app/1.2.0+build2"})
	require.True(t, ok)
	assert.Equal(t, "app/1.2.0+build2", tag)
}
