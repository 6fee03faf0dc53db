package remote

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/imroc/req/v3"

	"github.com/foldersync/agent/internal/agenterr"
)

const (
	pathAuth        = "/api/v1/auth/login"
	pathChanges     = "/api/v1/sync/changes"
	pathList        = "/api/v1/sync/list"
	pathBlob        = "/api/v1/blob"
	pathPermissions = "/api/v1/sync/permissions"
)

// HTTPClient is the req/v3-backed Client implementation.
type HTTPClient struct {
	client *req.Client

	mu    sync.RWMutex
	token string
}

// NewHTTPClient constructs a Client against baseURL. The returned client
// retries idempotent requests at the transport layer; the engine's own
// retry policy (§4.6 of the sync contract) governs whole-transfer retries
// on top of this.
func NewHTTPClient(baseURL string) *HTTPClient {
	c := &HTTPClient{}
	c.client = req.C().
		SetBaseURL(baseURL).
		SetTLSClientConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetTimeout(30 * time.Second).
		SetCommonRetryCount(2).
		SetCommonRetryFixedInterval(500 * time.Millisecond).
		SetUserAgent("foldersync-agent").
		OnBeforeRequest(func(_ *req.Client, req *req.Request) error {
			c.mu.RLock()
			tok := c.token
			c.mu.RUnlock()
			if tok != "" {
				req.SetBearerAuthToken(tok)
			}
			return nil
		})
	return c
}

func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

type authResponse struct {
	Token string `json:"accessToken"`
}

func (c *HTTPClient) Authenticate(ctx context.Context, user, password string) (string, error) {
	var out authResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"username": user, "password": password}).
		SetSuccessResult(&out).
		Post(pathAuth)
	if err != nil {
		return "", agenterr.Wrap(agenterr.NetworkTransient, "authenticate", err)
	}
	if err := classify(res); err != nil {
		return "", err
	}
	c.SetToken(out.Token)
	return out.Token, nil
}

type changeWire struct {
	RelativePath string    `json:"relativePath"`
	Type         string    `json:"type"`
	Size         int64     `json:"size"`
	Hash         string    `json:"hash"`
	ModifiedAt   time.Time `json:"modifiedAt"`
	IsDirectory  bool      `json:"isDirectory"`
}

func (c *HTTPClient) ChangesSince(ctx context.Context, remotePath string, since time.Time) ([]Change, error) {
	var out []changeWire
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", remotePath).
		SetQueryParam("since", since.UTC().Format(time.RFC3339Nano)).
		SetSuccessResult(&out).
		Get(pathChanges)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.NetworkTransient, "list changes", err)
	}
	if err := classify(res); err != nil {
		return nil, err
	}

	changes := make([]Change, 0, len(out))
	for _, w := range out {
		changes = append(changes, Change{
			RelativePath: w.RelativePath,
			Type:         ChangeType(w.Type),
			Size:         w.Size,
			Hash:         w.Hash,
			ModifiedAt:   w.ModifiedAt,
			IsDirectory:  w.IsDirectory,
		})
	}
	return changes, nil
}

func (c *HTTPClient) ListDirectory(ctx context.Context, remotePath string) ([]Entry, error) {
	var out []changeWire
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", remotePath).
		SetSuccessResult(&out).
		Get(pathList)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.NetworkTransient, "list directory", err)
	}
	if err := classify(res); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(out))
	for _, w := range out {
		entries = append(entries, Entry{
			RelativePath: w.RelativePath,
			Size:         w.Size,
			Hash:         w.Hash,
			ModifiedAt:   w.ModifiedAt,
			IsDirectory:  w.IsDirectory,
		})
	}
	return entries, nil
}

func (c *HTTPClient) Upload(ctx context.Context, remotePath string, r io.Reader, size int64) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", remotePath).
		SetContentLength(size).
		SetBody(r).
		Put(pathBlob)
	if err != nil {
		return agenterr.Wrap(agenterr.NetworkTransient, "upload "+remotePath, err)
	}
	return classify(res)
}

func (c *HTTPClient) Download(ctx context.Context, remotePath string, w io.Writer) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", remotePath).
		SetOutput(w).
		Get(pathBlob)
	if err != nil {
		return agenterr.Wrap(agenterr.NetworkTransient, "download "+remotePath, err)
	}
	return classify(res)
}

func (c *HTTPClient) Delete(ctx context.Context, remotePath string) error {
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", remotePath).
		Delete(pathBlob)
	if err != nil {
		return agenterr.Wrap(agenterr.NetworkTransient, "delete "+remotePath, err)
	}
	return classify(res)
}

type permissionWire struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
	Admin bool `json:"admin"`
}

func (c *HTTPClient) Permissions(ctx context.Context, remotePath string) (Permission, error) {
	var out permissionWire
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", remotePath).
		SetSuccessResult(&out).
		Get(pathPermissions)
	if err != nil {
		return Permission{}, agenterr.Wrap(agenterr.NetworkTransient, "permissions", err)
	}
	if err := classify(res); err != nil {
		return Permission{}, err
	}
	return Permission{RelativePath: remotePath, Read: out.Read, Write: out.Write, Admin: out.Admin}, nil
}

// classify maps an HTTP response's status into the engine's error-kind
// vocabulary: 2xx is success, 401 triggers re-authentication, 408/429/5xx
// are transient and eligible for the sync engine's retry policy, everything
// else is permanent.
func classify(res *req.Response) error {
	if !res.IsErrorState() {
		return nil
	}

	status := res.GetStatusCode()
	msg := fmt.Sprintf("remote returned status %d", status)

	switch {
	case status == http.StatusUnauthorized:
		return agenterr.New(agenterr.NotAuthenticated, msg)
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return agenterr.New(agenterr.NetworkTransient, msg)
	default:
		return agenterr.New(agenterr.NetworkPermanent, msg)
	}
}
