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
	"strings"

	"github.com/Masterminds/semver/v3"
)

// TagVersion extracts the version token from a tag of the form
// ${prefix}/${v}. The last path segment must parse as a semver version;
// tags that do not are ignored by the matcher.
func TagVersion(tag string) (prefix string, version *semver.Version, ok bool) {
	i := strings.LastIndex(tag, "/")
	if i < 0 {
		return "", nil, false
	}
	v, err := semver.NewVersion(tag[i+1:])
	if err != nil {
		return "", nil, false
	}
	return tag[:i], v, true
}

// MatchTag selects from tags the one whose trailing version token is
// highest among those satisfying req and whose prefix equals name.
// Precedence follows semver: numeric compare on major/minor/patch,
// pre-releases order below their release, build metadata is ignored.
// Ties on the version are broken by lexical order of the tag name so
// the result is deterministic.
func MatchTag(req *semver.Constraints, name string, tags []string) (string, bool) {
	var bestTag string
	var bestVersion *semver.Version

	for _, tag := range tags {
		prefix, v, ok := TagVersion(tag)
		if !ok || prefix != name {
			continue
		}
		if !req.Check(v) {
			continue
		}
		if bestVersion == nil {
			bestTag, bestVersion = tag, v
			continue
		}
		switch v.Compare(bestVersion) {
		case 1:
			bestTag, bestVersion = tag, v
		case 0:
			if tag > bestTag {
				bestTag, bestVersion = tag, v
			}
		}
	}
	return bestTag, bestVersion != nil
}
