package server

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/lucasew/easysave/internal/httputil"
	"github.com/lucasew/easysave/internal/i18n"
	"github.com/lucasew/easysave/internal/savedevice"
)

// DefaultMaxPayload bounds the body of a PUT.
const DefaultMaxPayload = 32 << 20

// API exposes a save device over HTTP.
type API struct {
	device     savedevice.Device
	localizer  *i18n.Localizer
	maxPayload int64
	logger     *slog.Logger
}

func NewAPI(device savedevice.Device, localizer *i18n.Localizer, logger *slog.Logger) *API {
	return &API{
		device:     device,
		localizer:  localizer,
		maxPayload: DefaultMaxPayload,
		logger:     logger,
	}
}

type statusResponse struct {
	Ready    bool     `json:"ready"`
	Busy     bool     `json:"busy"`
	State    string   `json:"state"`
	Provider string   `json:"provider"`
	Language string   `json:"language"`
	Messages []string `json:"messages"`
}

type operationResponse struct {
	OpID      string `json:"op_id"`
	Kind      string `json:"kind"`
	Container string `json:"container"`
	File      string `json:"file"`
}

// CompletionJSON is the wire form of a savedevice.Completion.
type CompletionJSON struct {
	OpID       string    `json:"op_id"`
	Kind       string    `json:"kind"`
	Container  string    `json:"container"`
	File       string    `json:"file"`
	Code       string    `json:"code"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

func completionJSON(c savedevice.Completion) CompletionJSON {
	out := CompletionJSON{
		OpID:       c.OpID,
		Kind:       string(c.Kind),
		Container:  c.Container,
		File:       c.File,
		Code:       string(c.Code()),
		StartedAt:  c.StartedAt,
		FinishedAt: c.FinishedAt,
		DurationMS: c.Duration().Milliseconds(),
	}
	if c.Err != nil {
		out.Error = c.Err.Error()
	}
	return out
}

// statusFor maps a device error to the HTTP status reported to clients.
func statusFor(code savedevice.Code) int {
	switch code {
	case savedevice.CodeOK:
		return http.StatusOK
	case savedevice.CodeNotFound:
		return http.StatusNotFound
	case savedevice.CodeInvalidName:
		return http.StatusBadRequest
	case savedevice.CodeBusy:
		return http.StatusConflict
	case savedevice.CodeNotReady, savedevice.CodeUnavailable, savedevice.CodeClosed, savedevice.CodeCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := savedevice.Classify(err)
	status := statusFor(code)
	if errors.Is(err, path.ErrBadPattern) {
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
	}
	if err := httputil.WriteError(w, status, string(code), err); err != nil {
		a.logger.Error("failed to write error response", "error", err)
	}
}

func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	tag := a.localizer.Match(r.Header.Get("Accept-Language"))
	resp := statusResponse{
		Ready:    a.device.IsReady(),
		Busy:     a.device.IsBusy(),
		State:    a.device.State().String(),
		Provider: a.device.ProviderName(),
		Language: tag.String(),
	}
	if resp.Ready {
		resp.Messages = append(resp.Messages, a.localizer.Sprintf(tag, i18n.DeviceReady))
	} else {
		resp.Messages = append(resp.Messages, a.localizer.Sprintf(tag, i18n.DeviceNotReady))
	}
	if resp.Busy {
		resp.Messages = append(resp.Messages, a.localizer.Sprintf(tag, i18n.DeviceBusy))
	} else {
		resp.Messages = append(resp.Messages, a.localizer.Sprintf(tag, i18n.DeviceNotBusy))
	}
	w.Header().Set("Content-Language", tag.String())
	if err := httputil.WriteJSON(w, http.StatusOK, resp); err != nil {
		a.logger.Error("failed to write status", "error", err)
	}
}

// HandlePut saves the request body. The body is buffered before the device
// is touched so a slow client never holds the device busy. With ?wait=true
// the response is sent once the save completed.
func (a *API) HandlePut(w http.ResponseWriter, r *http.Request) {
	container, file := r.PathValue("container"), r.PathValue("file")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxPayload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteText(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		httputil.WriteText(w, http.StatusBadRequest, "failed to read body")
		return
	}

	existed := a.device.FileExists(r.Context(), container, file)
	op, err := a.device.SaveAsync(r.Context(), container, file, func(dst io.Writer) error {
		_, err := dst.Write(data)
		return err
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		_ = httputil.WriteJSON(w, http.StatusAccepted, operationResponse{
			OpID:      op.ID(),
			Kind:      string(op.Kind()),
			Container: container,
			File:      file,
		})
		return
	}

	if err := op.Wait(r.Context()); err != nil {
		a.writeError(w, r, err)
		return
	}
	c, _ := op.Result()
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	_ = httputil.WriteJSON(w, status, completionJSON(c))
}

func (a *API) HandleGet(w http.ResponseWriter, r *http.Request) {
	container, file := r.PathValue("container"), r.PathValue("file")

	var buf bytes.Buffer
	err := a.device.Load(r.Context(), container, file, func(src io.Reader) error {
		_, err := buf.ReadFrom(src)
		return err
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := httputil.WriteBytes(w, http.StatusOK, buf.Bytes()); err != nil {
		a.logger.Debug("client went away during download", "error", err)
	}
}

// HandleHead reports existence without touching the busy state.
func (a *API) HandleHead(w http.ResponseWriter, r *http.Request) {
	container, file := r.PathValue("container"), r.PathValue("file")
	switch {
	case !a.device.IsReady():
		w.WriteHeader(http.StatusServiceUnavailable)
	case a.device.FileExists(r.Context(), container, file):
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (a *API) HandleDelete(w http.ResponseWriter, r *http.Request) {
	container, file := r.PathValue("container"), r.PathValue("file")
	if err := a.device.Delete(r.Context(), container, file); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	container := r.PathValue("container")
	files, err := a.device.GetFiles(r.Context(), container, r.URL.Query().Get("pattern"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"container": container,
		"files":     files,
	})
}

// HandleListContainers lists the containers the caller's token may access.
func (a *API) HandleListContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := a.device.GetContainers(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	claims := claimsFrom(r.Context())
	visible := make([]string, 0, len(containers))
	for _, c := range containers {
		if claims.Allows(c) {
			visible = append(visible, c)
		}
	}
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]any{"containers": visible})
}
