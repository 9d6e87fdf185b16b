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
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"k8s.io/klog/v2"

	"github.com/aerys/gpm/internal/auth"
	"github.com/aerys/gpm/internal/errors"
)

const (
	mediaType = "application/vnd.git-lfs+json"

	// MaxAttempts bounds retries of a transient network failure
	// during the batch exchange and the object download.
	MaxAttempts = 5
)

// Client performs the LFS batch exchange and object downloads.
type Client struct {
	// HTTPClient issues the batch and transfer requests.
	HTTPClient *http.Client

	// Store receives downloaded objects.
	Store *Store

	// Progress, when non-nil, wraps the destination file so the
	// front-end can display transfer progress.
	Progress func(size int64, w io.Writer) io.Writer

	auth *auth.Provider
}

// NewClient returns a Client writing into store and asking provider
// for credentials.
func NewClient(store *Store, provider *auth.Provider) *Client {
	return &Client{
		HTTPClient: &http.Client{},
		Store:      store,
		auth:       provider,
	}
}

// action is the transfer action returned by the batch API.
type action struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header"`
}

type batchRequest struct {
	Operation string        `json:"operation"`
	Transfers []string      `json:"transfers"`
	Ref       *batchRef     `json:"ref,omitempty"`
	Objects   []batchObject `json:"objects"`
}

type batchRef struct {
	Name string `json:"name"`
}

type batchObject struct {
	Oid  string `json:"oid"`
	Size int64  `json:"size"`
}

type batchResponse struct {
	Objects []struct {
		Oid   string `json:"oid"`
		Size  int64  `json:"size"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Actions map[string]*action `json:"actions"`
	} `json:"objects"`
}

// GuessEndpoint derives the LFS server URL from a Git remote URL,
// following the server discovery rules of the LFS documentation: the
// remote rewritten to https, the port dropped, `.git` appended when
// absent and `/info/lfs` appended.
func GuessEndpoint(remote string) (string, error) {
	const op errors.Op = "lfs.GuessEndpoint"

	ep, err := transport.NewEndpoint(remote)
	if err != nil {
		return "", errors.E(op, errors.Parse, fmt.Errorf("invalid remote %q: %w", remote, err))
	}
	path := strings.TrimSuffix(ep.Path, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, ".git") {
		path += ".git"
	}
	return "https://" + ep.Host + path + "/info/lfs", nil
}

// Fetch ensures the object described by ptr is present in the store
// and returns its on-disk path. remote is the Git remote the pointer
// came from; refspec, when non-empty, is forwarded as the batch ref
// hint.
func (c *Client) Fetch(ctx context.Context, remote, refspec string, ptr *Pointer) (string, error) {
	const op errors.Op = "lfs.Client.Fetch"

	if c.Store.Has(ptr.Oid) {
		klog.V(3).Infof("lfs object %s already in store", ptr.Oid)
		return c.Store.ObjectPath(ptr.Oid), nil
	}

	endpoint, err := GuessEndpoint(remote)
	if err != nil {
		return "", errors.E(op, errors.Repo(remote), err)
	}

	header := map[string]string{}
	if user, pass, ok := auth.BasicAuthFromRemote(remote); ok {
		req := &http.Request{Header: http.Header{}}
		req.SetBasicAuth(user, pass)
		header["Authorization"] = req.Header.Get("Authorization")
	}

	// Try to negotiate without further authentication first; retry
	// with the LFS authenticate protocol only on a 401.
	download, err := c.batch(ctx, endpoint, header, refspec, ptr)
	if errors.Is(err, errors.Auth) && isSSHRemote(remote) {
		klog.V(2).Info("unauthorized LFS download, retrying with SSH authentication")

		authorized, authErr := c.authenticateOverSSH(ctx, remote)
		if authErr != nil {
			return "", errors.E(op, errors.Repo(remote), authErr)
		}
		download, err = c.batch(ctx, authorized.Href, authorized.Header, refspec, ptr)
	}
	if err != nil {
		return "", errors.E(op, errors.Repo(remote), err)
	}

	if err := c.download(ctx, download, ptr); err != nil {
		return "", errors.E(op, errors.Repo(remote), err)
	}
	return c.Store.ObjectPath(ptr.Oid), nil
}

func isSSHRemote(remote string) bool {
	ep, err := transport.NewEndpoint(remote)
	return err == nil && ep.Protocol == "ssh"
}

// batch performs the batch API exchange and returns the download
// action for the object.
func (c *Client) batch(ctx context.Context, endpoint string, header map[string]string, refspec string, ptr *Pointer) (*action, error) {
	const op errors.Op = "lfs.Client.batch"

	payload := batchRequest{
		Operation: "download",
		Transfers: []string{"basic"},
		Objects:   []batchObject{{Oid: ptr.Oid, Size: ptr.Size}},
	}
	if refspec != "" {
		payload.Ref = &batchRef{Name: refspec}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.E(op, errors.Internal, err)
	}

	var result *action
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			endpoint+"/objects/batch", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(errors.E(op, errors.LFS, err))
		}
		req.Header.Set("Accept", mediaType)
		req.Header.Set("Content-Type", mediaType)
		for k, v := range header {
			req.Header.Set(k, v)
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return errors.E(op, errors.Network, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(errors.E(op, errors.Auth,
				fmt.Errorf("LFS server rejected the batch request: %s", strings.TrimSpace(string(msg)))))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return errors.E(op, errors.Network,
				fmt.Errorf("LFS server error %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return backoff.Permanent(errors.E(op, errors.LFS,
				fmt.Errorf("LFS server error %d", resp.StatusCode)))
		}

		var parsed batchResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(errors.E(op, errors.LFS,
				fmt.Errorf("error parsing batch response: %w", err)))
		}
		if len(parsed.Objects) == 0 {
			return backoff.Permanent(errors.E(op, errors.LFS,
				fmt.Errorf("batch response carries no objects")))
		}
		obj := parsed.Objects[0]
		if obj.Error != nil {
			return backoff.Permanent(errors.E(op, errors.LFS,
				fmt.Errorf("could not get LFS download link, error %d: %s", obj.Error.Code, obj.Error.Message)))
		}
		download := obj.Actions["download"]
		if download == nil || download.Href == "" {
			return backoff.Permanent(errors.E(op, errors.LFS,
				fmt.Errorf("batch response carries no download action")))
		}
		result = download
		return nil
	}

	if err := retryTransient(ctx, operation); err != nil {
		return nil, err
	}
	return result, nil
}

// download streams the object to the store temp file, resuming from
// its current length when the server supports ranges, then verifies
// the declared oid and size before committing.
func (c *Client) download(ctx context.Context, act *action, ptr *Pointer) error {
	const op errors.Op = "lfs.Client.download"

	tmp := c.Store.tmpPath(ptr.Oid)
	if err := os.MkdirAll(filepath.Dir(tmp), 0o700); err != nil {
		return errors.E(op, errors.IO, err)
	}

	operation := func() error {
		f, err := os.OpenFile(tmp, os.O_CREATE|os.O_RDWR, 0o600)
		if err != nil {
			return backoff.Permanent(errors.E(op, errors.IO, err))
		}
		defer f.Close()

		offset, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			return backoff.Permanent(errors.E(op, errors.IO, err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, act.Href, nil)
		if err != nil {
			return backoff.Permanent(errors.E(op, errors.LFS, err))
		}
		for k, v := range act.Header {
			req.Header.Set(k, v)
		}
		if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return errors.E(op, errors.Network, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusPartialContent && offset > 0:
			// Resume from the current length.
		case resp.StatusCode == http.StatusOK:
			if err := f.Truncate(0); err != nil {
				return backoff.Permanent(errors.E(op, errors.IO, err))
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return backoff.Permanent(errors.E(op, errors.IO, err))
			}
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return errors.E(op, errors.Network,
				fmt.Errorf("LFS transfer error %d", resp.StatusCode))
		default:
			return backoff.Permanent(errors.E(op, errors.LFS,
				fmt.Errorf("LFS transfer error %d", resp.StatusCode)))
		}

		var w io.Writer = f
		if c.Progress != nil {
			w = c.Progress(ptr.Size, f)
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return errors.E(op, errors.Network, err)
		}
		return nil
	}

	if err := retryTransient(ctx, operation); err != nil {
		c.Store.discard(ptr.Oid)
		return err
	}

	if err := c.verify(tmp, ptr); err != nil {
		c.Store.discard(ptr.Oid)
		return err
	}
	return c.Store.commit(ptr.Oid)
}

// verify checks the downloaded bytes against the declared size and
// oid.
func (c *Client) verify(path string, ptr *Pointer) error {
	const op errors.Op = "lfs.Client.verify"

	f, err := os.Open(path)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	if n != ptr.Size {
		return errors.E(op, errors.LFSSizeMismatch,
			fmt.Errorf("downloaded %d bytes, pointer declares %d", n, ptr.Size))
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != ptr.Oid {
		return errors.E(op, errors.LFSHashMismatch,
			fmt.Errorf("downloaded bytes hash to %s, pointer declares %s", sum, ptr.Oid))
	}
	return nil
}

// retryTransient retries operation with exponential backoff up to
// MaxAttempts while it reports transient network errors.
func retryTransient(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, MaxAttempts-1), ctx))
}
