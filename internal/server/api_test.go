package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/lucasew/easysave/internal/i18n"
	"github.com/lucasew/easysave/internal/savedevice"
	"github.com/lucasew/easysave/internal/storage"
	"github.com/lucasew/easysave/internal/storage/fsstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	srv    *httptest.Server
	device savedevice.Device
	api    *API
	auth   *Authenticator
}

func newTestEnv(t *testing.T, device savedevice.Device, auth *Authenticator) *testEnv {
	t.Helper()
	logger := testLogger()
	loc, err := i18n.New(language.English, language.French)
	require.NoError(t, err)

	api := NewAPI(device, loc, logger)
	hs := NewHttpServer(api, NewEventServer(device, logger), NewAuthMiddleware(auth, logger), logger)
	srv := httptest.NewServer(hs.Handler())
	t.Cleanup(func() {
		// Closing the device ends open event streams before the server
		// waits for them.
		_ = device.Close()
		srv.Close()
	})
	return &testEnv{srv: srv, device: device, api: api, auth: auth}
}

func newMemoryEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := savedevice.NewIsolated(fsstore.NewMemory("ram"), "test", testLogger())
	require.NoError(t, err)
	return newTestEnv(t, d, nil)
}

func (e *testEnv) do(t *testing.T, method, path, body string, header http.Header) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthAndVersion(t *testing.T) {
	e := newMemoryEnv(t)

	resp := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp = e.do(t, http.MethodGet, "/version", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(string(body), "easysave "))
}

func TestFileLifecycle(t *testing.T) {
	e := newMemoryEnv(t)
	const path = "/api/containers/TestContainer/files/MyFile.txt"

	resp := e.do(t, http.MethodPut, path+"?wait=true", "Hello, World 0!\n", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	c := decode[CompletionJSON](t, resp)
	assert.Equal(t, "save", c.Kind)
	assert.Equal(t, "ok", c.Code)
	assert.NotEmpty(t, c.OpID)

	resp = e.do(t, http.MethodPut, path+"?wait=true", "Hello, World 1!\n", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodHead, path, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Hello, World 1!\n", string(body))

	resp = e.do(t, http.MethodGet, "/api/containers/TestContainer/files?pattern=*.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	files := decode[struct {
		Files []string `json:"files"`
	}](t, resp)
	assert.Equal(t, []string{"MyFile.txt"}, files.Files)

	resp = e.do(t, http.MethodGet, "/api/containers", "", nil)
	containers := decode[struct {
		Containers []string `json:"containers"`
	}](t, resp)
	assert.Equal(t, []string{"TestContainer"}, containers.Containers)

	resp = e.do(t, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[struct {
		Code string `json:"code"`
	}](t, resp).Code)

	resp = e.do(t, http.MethodHead, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutWithoutWaitReturnsOperation(t *testing.T) {
	e := newMemoryEnv(t)

	resp := e.do(t, http.MethodPut, "/api/containers/c/files/f", "payload", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	op := decode[operationResponse](t, resp)
	assert.NotEmpty(t, op.OpID)
	assert.Equal(t, "save", op.Kind)

	assert.Eventually(t, func() bool {
		return e.device.FileExists(context.Background(), "c", "f") && !e.device.IsBusy()
	}, time.Second, 5*time.Millisecond)
}

func TestBusyDeviceReturnsConflict(t *testing.T) {
	e := newMemoryEnv(t)
	ctx := context.Background()

	release := make(chan struct{})
	op, err := e.device.SaveAsync(ctx, "c", "slow", func(w io.Writer) error {
		<-release
		_, err := w.Write([]byte("x"))
		return err
	})
	require.NoError(t, err)

	resp := e.do(t, http.MethodPut, "/api/containers/c/files/other?wait=true", "y", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "busy", decode[struct {
		Code string `json:"code"`
	}](t, resp).Code)

	close(release)
	require.NoError(t, op.Wait(ctx))
}

func TestRequestErrors(t *testing.T) {
	e := newMemoryEnv(t)
	e.api.maxPayload = 4

	testCases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"invalid file name", http.MethodPut, "/api/containers/c/files/a%5Cb", "x", http.StatusBadRequest},
		{"bad pattern", http.MethodGet, "/api/containers/c/files?pattern=%5B", "", http.StatusBadRequest},
		{"payload too large", http.MethodPut, "/api/containers/c/files/f", "too large", http.StatusRequestEntityTooLarge},
		{"delete missing", http.MethodDelete, "/api/containers/c/files/f", "", http.StatusNotFound},
		{"unknown route", http.MethodGet, "/api/nope", "", http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := e.do(t, tc.method, tc.path, tc.body, nil)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestStatusIsLocalized(t *testing.T) {
	e := newMemoryEnv(t)

	resp := e.do(t, http.MethodGet, "/api/status", "", http.Header{"Accept-Language": {"fr-CA, en;q=0.5"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fr", resp.Header.Get("Content-Language"))

	st := decode[statusResponse](t, resp)
	assert.True(t, st.Ready)
	assert.False(t, st.Busy)
	assert.Equal(t, "ready", st.State)
	assert.Equal(t, "ram/test", st.Provider)
	assert.Equal(t, "Le périphérique de sauvegarde est prêt.", st.Messages[0])

	resp = e.do(t, http.MethodGet, "/api/status", "", nil)
	st = decode[statusResponse](t, resp)
	assert.Equal(t, "en", st.Language)
	assert.Equal(t, "Save device is ready.", st.Messages[0])
}

func TestDeviceNotReady(t *testing.T) {
	sel := savedevice.SelectorFunc(func(context.Context) (storage.Provider, error) {
		return nil, storage.ErrSelectorCanceled
	})
	d := savedevice.NewShared(sel, savedevice.SharedOptions{Logger: testLogger()})
	e := newTestEnv(t, d, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/containers/c/files/f"},
		{http.MethodPut, "/api/containers/c/files/f"},
		{http.MethodHead, "/api/containers/c/files/f"},
		{http.MethodGet, "/api/containers"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			body := ""
			if tc.method == http.MethodPut {
				body = "x"
			}
			resp := e.do(t, tc.method, tc.path, body, nil)
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		})
	}

	resp := e.do(t, http.MethodGet, "/api/status", "", nil)
	st := decode[statusResponse](t, resp)
	assert.False(t, st.Ready)
	assert.Equal(t, "uninitialized", st.State)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, statusFor(savedevice.CodeOK))
	assert.Equal(t, http.StatusConflict, statusFor(savedevice.CodeBusy))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(savedevice.CodeClosed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(savedevice.CodePanic))
	assert.Equal(t, http.StatusInternalServerError, statusFor(savedevice.CodeIO))
}
