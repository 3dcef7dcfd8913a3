package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	serrors "github.com/conneroisu/sojourn/internal/errors"
	"github.com/conneroisu/sojourn/internal/registry"
	"github.com/conneroisu/sojourn/internal/value"
	"github.com/conneroisu/sojourn/internal/version"
)

// InjectedPrefix marks query parameters bound as injected data.
const InjectedPrefix = "ij."

// maxBodySize bounds POST render bodies.
const maxBodySize = 1 << 20

var contentTypes = map[string]string{
	string(value.ContentHTML):       "text/html; charset=utf-8",
	string(value.ContentCSS):        "text/css; charset=utf-8",
	string(value.ContentJS):         "text/javascript; charset=utf-8",
	string(value.ContentURI):        "text/plain; charset=utf-8",
	string(value.ContentAttributes): "text/plain; charset=utf-8",
	string(value.ContentText):       "text/plain; charset=utf-8",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps render errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case serrors.HasCode(err, serrors.ErrCodeTemplateNotFound):
		return http.StatusNotFound
	case serrors.IsArgumentError(err), serrors.HasCode(err, serrors.ErrCodeMissingParam):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}
	var se *serrors.SojournError
	if errors.As(err, &se) {
		body["code"] = se.Code
	}
	writeJSON(w, statusOf(err), body)
}

func (s *Server) registry() (*registry.Registry, error) {
	reg := s.holder.Load()
	if reg == nil {
		return nil, serrors.NewInternalError(serrors.ErrCodeInternalError, "no templates loaded", nil)
	}
	return reg, nil
}

// handleHealth returns the server health status for health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	templates := 0
	status := "healthy"
	if reg := s.holder.Load(); reg != nil {
		templates = len(reg.Names())
	} else {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   version.Get().Short(),
		"templates": templates,
		"clients":   s.ClientCount(),
	})
}

// handleTemplates lists every template and delegate implementation.
func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	reg, err := s.registry()
	if err != nil {
		writeError(w, err)
		return
	}
	infos := reg.Describe()
	if infos == nil {
		infos = []registry.TemplateInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// flushWriter records whether the response has started and flushes it on
// request, so streamed chunks reach the client as the render yields.
type flushWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	kind    string
	started bool
}

func (f *flushWriter) Write(p []byte) (int, error) {
	if !f.started {
		f.started = true
		f.w.Header().Set("Content-Type", f.kind)
		f.w.Header().Set("X-Content-Type-Options", "nosniff")
	}
	return f.w.Write(p)
}

func (f *flushWriter) Flush() error {
	if !f.started {
		return nil
	}
	if err := f.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// handleRender streams a template render. Errors before the first flush
// produce a JSON error response; later errors end the response early.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	reg, err := s.registry()
	if err != nil {
		writeError(w, err)
		return
	}
	kind := contentTypes[string(value.ContentHTML)]
	if t, err := reg.Template(name); err == nil {
		if ct, ok := contentTypes[string(t.Kind())]; ok {
			kind = ct
		}
	}

	params, injected, err := requestParams(r)
	if err != nil {
		writeError(w, err)
		return
	}

	out := &flushWriter{w: w, rc: http.NewResponseController(w), kind: kind}
	if err := s.renderer.Render(r.Context(), out, name, params, injected); err != nil {
		if !out.started {
			writeError(w, err)
			return
		}
		s.logger.Warn(r.Context(), err, "render failed after output started", "template", name)
	}
}

// requestParams reads template data from the request. Query parameters
// bind as strings, repeated ones as lists, and those prefixed "ij." as
// injected data. A POST with a JSON body {"params": {...}, "injected":
// {...}} binds typed values and takes precedence.
func requestParams(r *http.Request) (map[string]any, map[string]any, error) {
	params := map[string]any{}
	injected := map[string]any{}
	for key, vals := range r.URL.Query() {
		target := params
		if strings.HasPrefix(key, InjectedPrefix) {
			target = injected
			key = strings.TrimPrefix(key, InjectedPrefix)
		}
		if len(vals) == 1 {
			target[key] = vals[0]
			continue
		}
		list := make([]any, len(vals))
		for i, v := range vals {
			list[i] = v
		}
		target[key] = list
	}

	if r.Method != http.MethodPost {
		return params, injected, nil
	}
	var body struct {
		Params   map[string]any `json:"params"`
		Injected map[string]any `json:"injected"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, nil, serrors.NewArgumentError(serrors.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid JSON body: %v", err))
	}
	for k, v := range body.Params {
		params[k] = numbers(v)
	}
	for k, v := range body.Injected {
		injected[k] = numbers(v)
	}
	return params, injected, nil
}

// numbers converts json.Number values to int64 when integral and float64
// otherwise.
func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = numbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = numbers(t[k])
		}
		return t
	}
	return v
}
