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

package lfs

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"k8s.io/klog/v2"

	gpmauth "github.com/aerys/gpm/internal/auth"
	"github.com/aerys/gpm/internal/errors"
)

// AuthorizedEndpoint is the answer of the LFS authenticate protocol:
// an endpoint URL plus the headers that authorize requests against it.
type AuthorizedEndpoint struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header"`
}

// authenticateOverSSH obtains an LFS bearer token by running
// git-lfs-authenticate on the remote host over SSH, per the LFS
// authentication documentation.
func (c *Client) authenticateOverSSH(ctx context.Context, remote string) (*AuthorizedEndpoint, error) {
	const op errors.Op = "lfs.Client.authenticateOverSSH"

	ep, err := transport.NewEndpoint(remote)
	if err != nil {
		return nil, errors.E(op, errors.Parse, err)
	}

	cred, err := c.auth.SSHCredentialFor(remote)
	if err != nil {
		return nil, errors.E(op, err)
	}

	cfg, err := sshClientConfig(cred)
	if err != nil {
		return nil, errors.E(op, err)
	}

	port := ep.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(ep.Host, fmt.Sprintf("%d", port))

	klog.V(2).Infof("fetching LFS auth token from %s", addr)

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.E(op, errors.Network, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, errors.E(op, errors.Auth, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, errors.E(op, errors.Network, err)
	}
	defer session.Close()

	command := fmt.Sprintf("git-lfs-authenticate %s download", strings.TrimPrefix(ep.Path, "/"))
	klog.V(3).Infof("executing %q over SSH", command)

	out, err := session.Output(command)
	if err != nil {
		return nil, errors.E(op, errors.Auth,
			fmt.Errorf("git-lfs-authenticate failed: %w", err))
	}

	authorized := &AuthorizedEndpoint{}
	if err := json.Unmarshal(out, authorized); err != nil {
		return nil, errors.E(op, errors.LFS,
			fmt.Errorf("error parsing git-lfs-authenticate response: %w", err))
	}
	if authorized.Href == "" {
		return nil, errors.E(op, errors.LFS,
			fmt.Errorf("git-lfs-authenticate returned no endpoint"))
	}
	return authorized, nil
}

// sshClientConfig builds the client configuration for the discovered
// credential: either the on-disk key or the agent.
func sshClientConfig(cred *gpmauth.Credential) (*ssh.ClientConfig, error) {
	const op errors.Op = "lfs.sshClientConfig"

	cfg := &ssh.ClientConfig{
		User:            cred.Username,
		HostKeyCallback: hostKeyCallback(),
	}

	switch cred.Kind {
	case gpmauth.SSHKey:
		pem, err := os.ReadFile(cred.PrivateKeyPath)
		if err != nil {
			return nil, errors.E(op, errors.IO, err)
		}
		var signer ssh.Signer
		if cred.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(cred.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, errors.E(op, errors.Auth,
				fmt.Errorf("error loading key %s: %w", cred.PrivateKeyPath, err))
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case gpmauth.Default:
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, errors.E(op, errors.Auth, fmt.Errorf("no SSH agent available"))
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, errors.E(op, errors.Auth, err)
		}
		cfg.Auth = []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}
	default:
		return nil, errors.E(op, errors.Auth,
			fmt.Errorf("credential kind %d cannot authenticate over SSH", cred.Kind))
	}
	return cfg, nil
}

// hostKeyCallback verifies host keys against ~/.ssh/known_hosts when
// present, mirroring what the native Git SSH transport does.
func hostKeyCallback() ssh.HostKeyCallback {
	home, err := os.UserHomeDir()
	if err == nil {
		cb, err := knownhosts.New(filepath.Join(home, ".ssh", "known_hosts"))
		if err == nil {
			return cb
		}
		klog.V(3).Infof("could not load known_hosts: %v", err)
	}
	return ssh.InsecureIgnoreHostKey()
}
