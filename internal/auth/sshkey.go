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

package auth

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
	"k8s.io/klog/v2"

	"github.com/aerys/gpm/internal/errors"
)

const (
	// SSHKeyEnv points at the private key to use, overriding
	// discovery.
	SSHKeyEnv = "GPM_SSH_KEY"

	// SSHPassEnv holds the key passphrase. Non-empty means it is
	// used instead of prompting.
	SSHPassEnv = "GPM_SSH_PASS"
)

// discoverSSH builds the SSH credential pipeline for an endpoint:
// GPM_SSH_KEY, then the IdentityFile from ~/.ssh/config, then
// ~/.ssh/id_rsa, and finally the SSH agent.
func (p *Provider) discoverSSH(ep *transport.Endpoint) ([]*Credential, error) {
	const op errors.Op = "auth.Provider.discoverSSH"

	user := ep.User
	if user == "" {
		user = "git"
	}

	var creds []*Credential
	addKey := func(path string) error {
		passphrase, err := p.passphraseFor(path)
		if err != nil {
			return err
		}
		creds = append(creds, &Credential{
			Kind:           SSHKey,
			Username:       user,
			PrivateKeyPath: path,
			Passphrase:     passphrase,
		})
		return nil
	}

	if path := os.Getenv(SSHKeyEnv); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.E(op, errors.Auth,
				fmt.Errorf("%s points at an unreadable key: %w", SSHKeyEnv, err))
		}
		if err := addKey(path); err != nil {
			return nil, err
		}
	}

	if path, err := identityFileFor(ep.Host); err != nil {
		klog.V(3).Infof("could not find private key path from ~/.ssh/config: %v", err)
	} else if path != "" && !containsKey(creds, path) {
		if _, err := os.Stat(path); err != nil {
			klog.V(3).Infof("IdentityFile %s is unreadable, skipping: %v", path, err)
		} else if err := addKey(path); err != nil {
			return nil, err
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".ssh", "id_rsa")
		if _, err := os.Stat(path); err == nil && !containsKey(creds, path) {
			if err := addKey(path); err != nil {
				return nil, err
			}
		}
	}

	// Surrender SSH auth to the agent when no key was found, and keep
	// it as the final fallback otherwise.
	creds = append(creds, &Credential{Kind: Default, Username: user})
	return creds, nil
}

// SSHCredentialFor returns the first SSH credential of the pipeline
// for a remote. The LFS client uses it to run the LFS authenticate
// protocol over SSH.
func (p *Provider) SSHCredentialFor(remote string) (*Credential, error) {
	const op errors.Op = "auth.Provider.SSHCredentialFor"

	pipeline, err := p.pipeline(remote)
	if err != nil {
		return nil, errors.E(op, errors.Repo(remote), err)
	}
	for _, cred := range pipeline {
		if cred.Kind == SSHKey || cred.Kind == Default {
			return cred, nil
		}
	}
	return nil, errors.E(op, errors.Repo(remote), errors.Auth,
		fmt.Errorf("no SSH credentials for %s", remote))
}

func containsKey(creds []*Credential, path string) bool {
	for _, c := range creds {
		if c.Kind == SSHKey && c.PrivateKeyPath == path {
			return true
		}
	}
	return false
}

// identityFileFor resolves the IdentityFile option of the first Host
// block of ~/.ssh/config matching host. %d and ~ are expanded to the
// home directory.
func identityFileFor(host string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	f, err := os.Open(filepath.Join(home, ".ssh", "config"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return "", err
	}

	path, err := cfg.Get(host, "IdentityFile")
	if err != nil || path == "" {
		return "", err
	}
	return expandHome(path, home), nil
}

func expandHome(path, home string) string {
	path = strings.ReplaceAll(path, "%d", home)
	if path == "~" || strings.HasPrefix(path, "~/") {
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

// passphraseFor returns the passphrase for the key at path, or the
// empty string when the key is not encrypted. Encrypted keys take
// GPM_SSH_PASS when set and fall back to an interactive prompt; with
// neither available the error kind is Passphrase.
func (p *Provider) passphraseFor(path string) (string, error) {
	const op errors.Op = "auth.Provider.passphraseFor"

	pem, err := os.ReadFile(path)
	if err != nil {
		return "", errors.E(op, errors.IO, err)
	}

	_, err = ssh.ParseRawPrivateKey(pem)
	if err == nil {
		return "", nil
	}
	var missing *ssh.PassphraseMissingError
	if !stderrors.As(err, &missing) {
		return "", errors.E(op, errors.Auth,
			fmt.Errorf("error parsing key %s: %w", path, err))
	}

	if pass := os.Getenv(SSHPassEnv); pass != "" {
		return pass, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.E(op, errors.Passphrase,
			fmt.Errorf("key %s is encrypted, stdin is not a terminal and %s is not set", path, SSHPassEnv))
	}
	pass, err := p.Prompt(fmt.Sprintf("Enter passphrase for key %s: ", path))
	if err != nil {
		return "", errors.E(op, errors.Passphrase, err)
	}
	return pass, nil
}

// promptPassphrase reads a passphrase on the controlling terminal with
// echo suppressed.
func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	return string(pass), nil
}
