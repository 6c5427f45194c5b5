// Package remote implements a storage provider backed by another easysave
// server's HTTP API.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/lucasew/easysave/internal/storage"
	"github.com/lucasew/easysave/internal/version"
)

type Client struct {
	name    string
	baseURL string
	token   string
	http    *http.Client
}

var _ storage.Provider = (*Client)(nil)

func New(name, baseURL, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote url must be http or https, got %q", u.Scheme)
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    cleanhttp.DefaultPooledClient(),
	}, nil
}

// WithHTTPClient replaces the underlying client. Used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) Name() string { return c.name }

func (c *Client) fileURL(container, name string) string {
	return fmt.Sprintf("%s/api/containers/%s/files/%s", c.baseURL, url.PathEscape(container), url.PathEscape(name))
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", req.Method, req.URL.Path, storage.ErrUnavailable, err)
	}
	return resp, nil
}

func statusError(resp *http.Response, container, name string) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%s/%s: %w", container, name, storage.ErrNotFound)
	case http.StatusBadRequest:
		return fmt.Errorf("%s/%s: %w", container, name, storage.ErrInvalidName)
	case http.StatusServiceUnavailable:
		return fmt.Errorf("remote: %w", storage.ErrUnavailable)
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("remote returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
}

func (c *Client) Available(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w: health returned %s", c.name, storage.ErrUnavailable, resp.Status)
	}
	return nil
}

func (c *Client) FileExists(ctx context.Context, container, name string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodHead, c.fileURL(container, name), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(resp, container, name)
}

// Create streams the payload through a pipe as the body of a PUT that waits
// for the remote save to complete. Close reports the remote outcome.
func (c *Client) Create(ctx context.Context, container, name string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	req, err := c.newRequest(ctx, http.MethodPut, c.fileURL(container, name)+"?wait=true", pr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	w := &pipeWriter{pw: pw, done: make(chan error, 1)}
	go func() {
		resp, err := c.do(req)
		if err != nil {
			_ = pr.CloseWithError(err)
			w.done <- err
			return
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			err = statusError(resp, container, name)
			_ = pr.CloseWithError(err)
			w.done <- err
			return
		}
		w.done <- nil
	}()
	return w, nil
}

type pipeWriter struct {
	pw      *io.PipeWriter
	done    chan error
	aborted bool
	closed  bool
}

func (w *pipeWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *pipeWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.pw.Close(); err != nil {
		return err
	}
	err := <-w.done
	if w.aborted {
		return nil
	}
	return err
}

// Abort breaks the request body so the remote side never commits the file.
func (w *pipeWriter) Abort() error {
	w.aborted = true
	_ = w.pw.CloseWithError(errAborted)
	w.closed = true
	<-w.done
	return nil
}

var errAborted = fmt.Errorf("save aborted")

func (c *Client) Open(ctx context.Context, container, name string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.fileURL(container, name), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, statusError(resp, container, name)
	}
	return resp.Body, nil
}

func (c *Client) Delete(ctx context.Context, container, name string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.fileURL(container, name), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return statusError(resp, container, name)
	}
	return nil
}

func (c *Client) List(ctx context.Context, container string) ([]string, error) {
	var out struct {
		Files []string `json:"files"`
	}
	u := fmt.Sprintf("%s/api/containers/%s/files", c.baseURL, url.PathEscape(container))
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	if out.Files == nil {
		out.Files = []string{}
	}
	return out.Files, nil
}

func (c *Client) Containers(ctx context.Context) ([]string, error) {
	var out struct {
		Containers []string `json:"containers"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/api/containers", &out); err != nil {
		return nil, err
	}
	if out.Containers == nil {
		out.Containers = []string{}
	}
	return out.Containers, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "", "")
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
