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

// Package auth synthesizes credentials for the Git and LFS transports
// from environment variables, the user's SSH configuration and
// interactive prompts.
package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"k8s.io/klog/v2"

	"github.com/aerys/gpm/internal/errors"
)

// CredentialKind enumerates the credential variants gpm can offer a
// transport.
type CredentialKind int

const (
	// None offers no credentials at all.
	None CredentialKind = iota
	// UserPass is an HTTP Basic username/password pair.
	UserPass
	// SSHKey is an on-disk private key, optionally encrypted.
	SSHKey
	// Default surrenders key discovery to the SSH agent.
	Default
)

// Credential is one concrete credential produced by the discovery
// pipeline.
type Credential struct {
	Kind CredentialKind

	// Username applies to UserPass, SSHKey and Default.
	Username string
	// Password applies to UserPass.
	Password string
	// PrivateKeyPath applies to SSHKey.
	PrivateKeyPath string
	// Passphrase applies to SSHKey when the key is encrypted.
	Passphrase string
}

// ToAuthMethod materializes the credential for the go-git transport
// layer.
func (c *Credential) ToAuthMethod() (transport.AuthMethod, error) {
	const op errors.Op = "auth.Credential.ToAuthMethod"

	switch c.Kind {
	case None:
		return nil, nil
	case UserPass:
		return &githttp.BasicAuth{Username: c.Username, Password: c.Password}, nil
	case SSHKey:
		keys, err := gitssh.NewPublicKeysFromFile(c.Username, c.PrivateKeyPath, c.Passphrase)
		if err != nil {
			return nil, errors.E(op, errors.Auth,
				fmt.Errorf("error loading key %s: %w", c.PrivateKeyPath, err))
		}
		return keys, nil
	case Default:
		agent, err := gitssh.NewSSHAgentAuth(c.Username)
		if err != nil {
			return nil, errors.E(op, errors.Auth, err)
		}
		return agent, nil
	}
	return nil, errors.E(op, errors.Internal, fmt.Errorf("unknown credential kind %d", c.Kind))
}

// MaxAttempts caps the number of credentials offered per connection so
// a rejecting server cannot drive an infinite authentication loop.
const MaxAttempts = 3

// Provider produces credentials on demand. It caches the discovered
// credential pipeline per remote; each WithAuth call walks that
// pipeline from its start and advances on each rejection. Attempts are
// counted per WithAuth call only; which credentials were offered is not
// recorded across calls.
type Provider struct {
	// Prompt reads a passphrase from the user. Tests replace it.
	Prompt func(prompt string) (string, error)

	mu        sync.Mutex
	pipelines map[string][]*Credential
}

// NewProvider returns a Provider prompting on the controlling
// terminal.
func NewProvider() *Provider {
	return &Provider{
		Prompt:    promptPassphrase,
		pipelines: map[string][]*Credential{},
	}
}

// WithAuth runs fn with credentials for remote, advancing the
// discovery pipeline on authentication failures up to the attempt
// budget.
func (p *Provider) WithAuth(ctx context.Context, remote string, fn func(transport.AuthMethod) error) error {
	const op errors.Op = "auth.Provider.WithAuth"

	pipeline, err := p.pipeline(remote)
	if err != nil {
		return errors.E(op, errors.Repo(remote), err)
	}

	var lastErr error
	attempts := 0
	for _, cred := range pipeline {
		if attempts >= MaxAttempts {
			break
		}
		attempts++

		method, err := cred.ToAuthMethod()
		if err != nil {
			// The credential cannot be materialized (unreadable
			// key, no agent): move on to the next one.
			klog.V(3).Infof("skipping credential for %s: %v", remote, err)
			lastErr = err
			continue
		}

		err = fn(method)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.E(op, errors.Repo(remote), ctx.Err())
		}
		if !isAuthError(err) {
			return err
		}
		klog.V(2).Infof("authentication rejected for %s (attempt %d/%d)", remote, attempts, MaxAttempts)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no usable credentials")
	}
	return errors.E(op, errors.Repo(remote), errors.Auth, lastErr)
}

// pipeline returns the ordered credentials to offer for a remote,
// computing it on first use.
func (p *Provider) pipeline(remote string) ([]*Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if creds, ok := p.pipelines[remote]; ok {
		return creds, nil
	}
	creds, err := p.discover(remote)
	if err != nil {
		return nil, err
	}
	p.pipelines[remote] = creds
	return creds, nil
}

// discover builds the credential pipeline for a remote based on its
// transport.
func (p *Provider) discover(remote string) ([]*Credential, error) {
	const op errors.Op = "auth.Provider.discover"

	ep, err := transport.NewEndpoint(remote)
	if err != nil {
		return nil, errors.E(op, errors.Parse, fmt.Errorf("invalid remote %q: %w", remote, err))
	}

	switch ep.Protocol {
	case "http", "https":
		if ep.User != "" {
			return []*Credential{{
				Kind:     UserPass,
				Username: ep.User,
				Password: ep.Password,
			}}, nil
		}
		// No HTTP credentials: a 401 surfaces to the caller.
		return []*Credential{{Kind: None}}, nil
	case "ssh":
		return p.discoverSSH(ep)
	default:
		// git:// and file:// carry no credentials.
		return []*Credential{{Kind: None}}, nil
	}
}

// BasicAuthFromRemote extracts the HTTP Basic pair embedded in an
// http(s) remote URL, if any.
func BasicAuthFromRemote(remote string) (user, pass string, ok bool) {
	ep, err := transport.NewEndpoint(remote)
	if err != nil || ep.User == "" {
		return "", "", false
	}
	if ep.Protocol != "http" && ep.Protocol != "https" {
		return "", "", false
	}
	return ep.User, ep.Password, true
}

// isAuthError reports whether err is an authentication rejection worth
// retrying with the next credential.
func isAuthError(err error) bool {
	switch {
	case stderrors.Is(err, transport.ErrAuthenticationRequired),
		stderrors.Is(err, transport.ErrAuthorizationFailed),
		stderrors.Is(err, transport.ErrInvalidAuthMethod):
		return true
	}
	return false
}
