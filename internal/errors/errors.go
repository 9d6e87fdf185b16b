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

// Package errors defines the error handling used by the gpm codebase.
package errors

import (
	goerrors "errors"
	"fmt"
	"strings"
)

// Error is an implementation of the error interface used in the gpm
// codebase.
// It is based on the design in https://commandcenter.blogspot.com/2017/12/error-handling-in-upspin.html
type Error struct {
	// Repo is the URL of the remote repository involved in the operation.
	Repo Repo

	// Op is the operation being performed, for ex. resolver.Resolve,
	// cache.Update.
	Op Op

	// Kind refers to the class of errors.
	Kind Kind

	// Err refers to the wrapped error (if any).
	Err error
}

func (e *Error) Error() string {
	b := new(strings.Builder)

	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(string(e.Op))
	}

	if e.Repo != "" {
		pad(b, ": ")
		b.WriteString("repo ")
		b.WriteString(string(e.Repo))
	}

	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}

	if e.Err != nil {
		if wrappedErr, ok := e.Err.(*Error); ok {
			if !wrappedErr.Zero() {
				pad(b, ":\n\t")
				b.WriteString(wrappedErr.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}
	if b.Len() == 0 {
		return "no error"
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// pad appends given str to the string buffer.
func pad(b *strings.Builder, str string) {
	if b.Len() == 0 {
		return
	}
	b.WriteString(str)
}

func (e *Error) Zero() bool {
	return e.Op == "" && e.Repo == "" && e.Kind == 0 && e.Err == nil
}

// Op describes the operation being performed.
type Op string

// Repo is the URL of the remote repository involved in the operation.
type Repo string

// Kind describes the class of errors encountered. The string form of a
// Kind is the stable machine-readable tag reported to the user.
type Kind int

const (
	Other           Kind = iota // Unclassified. Will not be printed.
	Parse                       // Malformed package reference.
	Sources                     // Sources list missing or unreadable.
	Auth                        // Credentials rejected, attempts exhausted.
	Passphrase                  // Encrypted key with no way to obtain a passphrase.
	Network                     // Transient network failure, retries exhausted.
	RemoteNotFound              // Remote repository does not exist.
	RefNotFound                 // Revision not found in the candidate repository.
	PackageNotFound             // No candidate repository holds the package archive.
	LFS                         // LFS batch or transfer failure.
	LFSPointerInvalid           // Malformed LFS pointer blob.
	LFSHashMismatch             // Downloaded bytes do not hash to the declared oid.
	LFSSizeMismatch             // Downloaded byte count differs from the declared size.
	Unsafe                      // Archive attempted to escape the install prefix.
	CacheBusy                   // Advisory lock contention on a cache entry.
	Git                         // Errors from Git.
	IO                          // Filesystem errors.
	Internal                    // Internal error or invariant violation.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case Parse:
		return "ParseError"
	case Sources:
		return "SourcesListMissing"
	case Auth:
		return "AuthenticationFailed"
	case Passphrase:
		return "PassphraseRequired"
	case Network:
		return "NetworkError"
	case RemoteNotFound:
		return "RemoteNotFound"
	case RefNotFound:
		return "RefNotFound"
	case PackageNotFound:
		return "PackageNotFound"
	case LFS:
		return "LfsError"
	case LFSPointerInvalid:
		return "LfsPointerInvalid"
	case LFSHashMismatch:
		return "LfsHashMismatch"
	case LFSSizeMismatch:
		return "LfsSizeMismatch"
	case Unsafe:
		return "UnsafeArchivePath"
	case CacheBusy:
		return "CacheBusy"
	case Git:
		return "git error"
	case IO:
		return "io error"
	case Internal:
		return "InternalError"
	}
	return "unknown kind"
}

func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("errors.E must have at least one argument")
	}

	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Repo:
			e.Repo = a
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case *Error:
			cp := *a
			e.Err = &cp
		case error:
			e.Err = a
		case string:
			e.Err = fmt.Errorf("%s", a)
		default:
			panic(fmt.Errorf("unknown type %T for value %v in call to errors.E", a, a))
		}
	}

	wrappedErr, ok := e.Err.(*Error)
	if !ok {
		return e
	}

	if e.Repo == wrappedErr.Repo {
		wrappedErr.Repo = ""
	}

	if e.Op == wrappedErr.Op {
		wrappedErr.Op = ""
	}

	if e.Kind == wrappedErr.Kind {
		wrappedErr.Kind = 0
	}

	return e
}

// Is reports whether any error in err's chain is an *Error with the
// given Kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		e, ok := err.(*Error)
		if ok && e.Kind == kind {
			return true
		}
		err = goerrors.Unwrap(err)
	}
	return false
}

// KindOf returns the Kind of the outermost *Error in err's chain that
// carries one, or Other.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind != Other {
			return e.Kind
		}
		err = goerrors.Unwrap(err)
	}
	return Other
}

// As is a passthrough to the standard library errors.As.
func As(err error, target interface{}) bool {
	return goerrors.As(err, target)
}
