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

// Package pkg defines the package reference model: how a user-supplied
// string is desugared into a remote, a package name and a revision
// constraint.
package pkg

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/aerys/gpm/internal/errors"
)

// ConstraintKind enumerates the three revision constraints a reference
// can carry.
type ConstraintKind int

const (
	// LatestDefaultBranch selects the tip of the remote default branch.
	LatestDefaultBranch ConstraintKind = iota
	// ExactRefspec selects a literal Git revision.
	ExactRefspec
	// SemverRequirement selects the highest tag satisfying a semver
	// requirement.
	SemverRequirement
)

// schemes accepted in URI notation.
var schemes = map[string]bool{
	"http":  true,
	"https": true,
	"ssh":   true,
	"git":   true,
	"file":  true,
}

var nameRegexp = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// operator characters that introduce a revision requirement in the
// name<op>revision notation.
const opChars = "=><^~"

// PackageReference is the desugared form of a user-supplied package
// string.
type PackageReference struct {
	// Remote is the explicit remote URL when URI notation was used,
	// empty otherwise. When empty, resolution consults the sources
	// list.
	Remote string

	// Name is the package name. Non-empty, slash-free.
	Name string

	kind    ConstraintKind
	refspec string
	rawReq  string
	req     *semver.Constraints
}

// Kind returns which of the three constraints the reference carries.
func (r *PackageReference) Kind() ConstraintKind {
	return r.kind
}

// Refspec returns the literal revision for ExactRefspec references.
func (r *PackageReference) Refspec() string {
	return r.refspec
}

// Requirement returns the parsed semver requirement for
// SemverRequirement references.
func (r *PackageReference) Requirement() *semver.Constraints {
	return r.req
}

// RawRequirement returns the requirement as the user wrote it.
func (r *PackageReference) RawRequirement() string {
	return r.rawReq
}

// String returns the canonical form of the reference. Parsing the
// canonical form yields an identical reference.
func (r *PackageReference) String() string {
	var s string
	switch r.kind {
	case LatestDefaultBranch:
		s = r.Name
	case ExactRefspec:
		if strings.HasPrefix(r.refspec, r.Name+"/") {
			s = r.refspec
		} else {
			s = r.Name + "@" + r.refspec
		}
	case SemverRequirement:
		if strings.ContainsAny(r.rawReq[:1], opChars) {
			s = r.Name + r.rawReq
		} else {
			s = r.Name + "=" + r.rawReq
		}
	}
	if r.Remote != "" {
		s = r.Remote + "#" + s
	}
	return s
}

// ParseReference classifies a user string into one of the four
// reference notations and desugars it.
//
// Recognition is layered: URI notation first, then name<op>revision,
// then name@refspec, then the implicit name-in-tag form, and finally a
// bare name selecting the default branch.
func ParseReference(s string) (*PackageReference, error) {
	const op errors.Op = "pkg.ParseReference"

	if s == "" {
		return nil, errors.E(op, errors.Parse, fmt.Errorf("empty package reference"))
	}

	if i := strings.Index(s, "://"); i >= 0 {
		scheme := s[:i]
		if !schemes[scheme] {
			return nil, errors.E(op, errors.Parse,
				fmt.Errorf("unsupported scheme %q in package reference %q", scheme, s))
		}
		j := strings.Index(s, "#")
		if j < 0 || j == len(s)-1 {
			return nil, errors.E(op, errors.Parse,
				fmt.Errorf("URI reference %q has no package fragment", s))
		}
		ref, err := ParseReference(s[j+1:])
		if err != nil {
			return nil, err
		}
		if ref.Remote != "" {
			return nil, errors.E(op, errors.Parse,
				fmt.Errorf("nested remote in package fragment of %q", s))
		}
		ref.Remote = s[:j]
		return ref, nil
	}

	// An '=' always introduces a revision. The other operator
	// characters only do when no '@' notation is in play: refspecs
	// like master^2 or v1~3 are legal on the right of an '@'.
	hasOp := strings.Contains(s, "=") ||
		(!strings.Contains(s, "@") && strings.ContainsAny(s, opChars))
	if i := strings.IndexAny(s, opChars); hasOp && i >= 0 {
		name := s[:i]
		rev := s[i:]
		if s[i] == '=' && !strings.HasPrefix(rev, "==") {
			// name=revision keeps only the right-hand side.
			rev = rev[1:]
		}
		if err := validateName(op, name); err != nil {
			return nil, err
		}
		if rev == "" {
			return nil, errors.E(op, errors.Parse,
				fmt.Errorf("empty revision in package reference %q", s))
		}
		if req, err := semver.NewConstraint(rev); err == nil {
			return &PackageReference{
				Name:   name,
				kind:   SemverRequirement,
				rawReq: rev,
				req:    req,
			}, nil
		}
		if s[i] == '=' {
			// An arbitrary refspec is only legal after '='; the
			// other operators promise a semver requirement.
			return &PackageReference{Name: name, kind: ExactRefspec, refspec: rev}, nil
		}
		return nil, errors.E(op, errors.Parse,
			fmt.Errorf("invalid semver requirement %q in package reference %q", rev, s))
	}

	if i := strings.Index(s, "@"); i >= 0 {
		name, refspec := s[:i], s[i+1:]
		if err := validateName(op, name); err != nil {
			return nil, err
		}
		if refspec == "" {
			return nil, errors.E(op, errors.Parse,
				fmt.Errorf("empty refspec in package reference %q", s))
		}
		return &PackageReference{Name: name, kind: ExactRefspec, refspec: refspec}, nil
	}

	if i := strings.Index(s, "/"); i >= 0 {
		name := s[:i]
		if err := validateName(op, name); err != nil {
			return nil, err
		}
		// The whole string doubles as the refspec, e.g. my-pkg/2.0
		// resolves against the tag my-pkg/2.0.
		return &PackageReference{Name: name, kind: ExactRefspec, refspec: s}, nil
	}

	if err := validateName(op, s); err != nil {
		return nil, err
	}
	return &PackageReference{Name: s, kind: LatestDefaultBranch}, nil
}

func validateName(op errors.Op, name string) error {
	if name == "" {
		return errors.E(op, errors.Parse, fmt.Errorf("empty package name"))
	}
	if !nameRegexp.MatchString(name) {
		return errors.E(op, errors.Parse, fmt.Errorf("invalid package name %q", name))
	}
	return nil
}

// ArchiveFilenames returns the archive file names looked up inside the
// package directory, in probe order.
func (r *PackageReference) ArchiveFilenames() []string {
	return []string{r.Name + ".tar.gz", r.Name + ".tgz"}
}

// ArchivePaths returns the in-tree archive paths, in probe order.
func (r *PackageReference) ArchivePaths() []string {
	names := r.ArchiveFilenames()
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = r.Name + "/" + n
	}
	return paths
}
