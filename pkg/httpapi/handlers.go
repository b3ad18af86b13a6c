package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/adclient"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/datatable"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/expressions"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/overlay"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/persist"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/plugin"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/sampledata"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/savedobjects"
	"github.com/ohltyler/anomaly-detection-dashboards-plugin-1/pkg/timerange"
)

const (
	contentTypeJSON = "application/json"
	contentTypeHTML = "text/html; charset=utf-8"

	visIDParam = "visId"
)

// Request errors.
var (
	ErrBadRequestBody = errors.New("httpapi: malformed request body")
	ErrMissingInput   = errors.New("httpapi: input is required")
	ErrMissingVisID   = errors.New("httpapi: visId query parameter is required")
)

// ExecuteRequest is the body of POST /api/expressions/{name}.
type ExecuteRequest struct {
	Input     json.RawMessage      `json:"input"`
	Args      map[string]any       `json:"args,omitempty"`
	TimeRange *timerange.TimeRange `json:"timeRange,omitempty"`
}

// FunctionInfo describes a registered expression function.
type FunctionInfo struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Help       string         `json:"help,omitempty"`
	InputTypes []string       `json:"inputTypes"`
	Args       []ArgumentInfo `json:"args"`
}

// ArgumentInfo describes one function argument.
type ArgumentInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Default  string `json:"default"`
	Help     string `json:"help,omitempty"`
	Required bool   `json:"required,omitempty"`
}

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func (h *handler) listFunctions(w http.ResponseWriter, _ *http.Request) {
	names := h.registry.Names()
	infos := make([]FunctionInfo, 0, len(names))

	for _, name := range names {
		def, ok := h.registry.Get(name)
		if !ok {
			continue
		}

		info := FunctionInfo{
			Name:       def.Name,
			Type:       def.Type,
			Help:       def.Help,
			InputTypes: def.InputTypes,
			Args:       make([]ArgumentInfo, 0, len(def.Args)),
		}

		for _, arg := range def.Args {
			info.Args = append(info.Args, ArgumentInfo{
				Name:     arg.Name,
				Type:     arg.Type.String(),
				Default:  arg.FormatDefault(),
				Help:     arg.Help,
				Required: arg.Required,
			})
		}

		infos = append(infos, info)
	}

	writeJSON(w, http.StatusOK, infos)
}

func (h *handler) executeFunction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req ExecuteRequest

	err := h.decode(w, r, &req)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	if len(req.Input) == 0 {
		h.writeError(w, r, ErrMissingInput)

		return
	}

	out, err := h.registry.Execute(r.Context(), name, req.Input, req.Args,
		expressions.Execution{TimeRange: req.TimeRange, Now: h.now()})
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *handler) mountApp(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer

	err := h.apps.Mount(r.Context(), chi.URLParam(r, "appID"), &buf, plugin.MountParams{
		Path:  chi.URLParam(r, "*"),
		Query: r.URL.Query(),
	})
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(http.StatusOK)

	_, _ = buf.WriteTo(w)
}

func (h *handler) listLinks(w http.ResponseWriter, r *http.Request) {
	visID := r.URL.Query().Get(visIDParam)
	if visID == "" {
		h.writeError(w, r, ErrMissingVisID)

		return
	}

	loader, err := h.services.SavedObjectLoader()
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	links, err := loader.FindByVis(visID)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, links)
}

func (h *handler) createLink(w http.ResponseWriter, r *http.Request) {
	var link savedobjects.AugmentVis

	err := h.decode(w, r, &link)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	loader, err := h.services.SavedObjectLoader()
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	saved, err := loader.Save(link)
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusCreated, saved)
}

func (h *handler) getLink(w http.ResponseWriter, r *http.Request) {
	loader, err := h.services.SavedObjectLoader()
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	link, err := loader.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, link)
}

func (h *handler) deleteLink(w http.ResponseWriter, r *http.Request) {
	loader, err := h.services.SavedObjectLoader()
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	err = loader.Delete(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return tooLarge
		}

		return fmt.Errorf("%w: %w", ErrBadRequestBody, err)
	}

	return nil
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)

	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		h.logger.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Status: status})
}

// StatusFor maps an error from the plugin packages to an HTTP status.
func StatusFor(err error) int {
	var (
		tooLarge    *http.MaxBytesError
		statusError *adclient.StatusError
	)

	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, expressions.ErrUnknownFunction),
		errors.Is(err, plugin.ErrUnknownApp),
		errors.Is(err, savedobjects.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, savedobjects.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrBadRequestBody),
		errors.Is(err, ErrMissingInput),
		errors.Is(err, ErrMissingVisID),
		errors.Is(err, expressions.ErrInputType),
		errors.Is(err, expressions.ErrUnknownArgument),
		errors.Is(err, expressions.ErrMissingArgument),
		errors.Is(err, expressions.ErrArgumentType),
		errors.Is(err, expressions.ErrInvalidContext),
		errors.Is(err, overlay.ErrInvalidVisData),
		errors.Is(err, overlay.ErrInvalidSearchContext),
		errors.Is(err, datatable.ErrNilTable),
		errors.Is(err, datatable.ErrUnknownColumn),
		errors.Is(err, datatable.ErrNoSeriesColumn),
		errors.Is(err, savedobjects.ErrMissingField),
		errors.Is(err, persist.ErrInvalidKey),
		errors.Is(err, sampledata.ErrInvalidGenerator):
		return http.StatusBadRequest
	case errors.Is(err, plugin.ErrServiceNotSet):
		return http.StatusServiceUnavailable
	case errors.As(err, &statusError), errors.Is(err, sampledata.ErrBulkFailures):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}
