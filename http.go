package tablesniff

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/tablesniff/internal/history"
	"github.com/hazyhaar/tablesniff/shield"
	"github.com/hazyhaar/tablesniff/table"
)

const maxRequestBody = 1 << 20

type openRequest struct {
	URL          string `json:"url"`
	StealthLevel string `json:"stealth_level"`
}

type exportRequest struct {
	Format string `json:"format"`
	Target string `json:"target"`
}

type exportResponse struct {
	table.Export
	Target Target `json:"target"`
}

// Handler returns the JSON API of e.
//
//	POST   /api/pages                              {url, stealth_level}
//	GET    /api/pages
//	DELETE /api/pages/{pageID}
//	GET    /api/pages/{pageID}/tables?include_hidden=true
//	GET    /api/pages/{pageID}/tables/{id}
//	POST   /api/pages/{pageID}/tables/{id}/highlight
//	POST   /api/pages/{pageID}/tables/{id}/export  {format, target}
//	POST   /api/pages/{pageID}/auto-download
//	GET    /api/exports?page_id=&status=&limit=
//	GET    /api/options
//	PUT    /api/options
//	POST   /api/options/domains/{host}
//	GET    /metrics
//	GET    /healthz
func (e *Engine) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxBody(maxRequestBody))
	r.Use(shield.TraceID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pages": e.pages.Len()})
	})
	if m := e.Metrics(); m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/pages", func(r chi.Router) {
		r.Post("/", e.handleOpen)
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, e.Pages())
		})

		r.Route("/{pageID}", func(r chi.Router) {
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				if err := e.ClosePage(chi.URLParam(r, "pageID")); err != nil {
					writeError(w, statusFor(err), err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			r.Get("/tables", e.handleList)
			r.Get("/tables/{id}", e.handleData)
			r.Post("/tables/{id}/highlight", e.handleHighlight)
			r.Post("/tables/{id}/export", e.handleExport)
			r.Post("/auto-download", e.handleAuto)
		})
	})

	r.Get("/api/exports", e.handleHistory)

	r.Route("/api/options", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, e.Options())
		})
		r.Put("/", e.handleSetOptions)
		r.Post("/domains/{host}", func(w http.ResponseWriter, r *http.Request) {
			host := chi.URLParam(r, "host")
			enabled, err := e.ToggleDomain(r.Context(), host)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"host": table.NormalizeHost(host), "enabled": enabled})
		})
	})
	return r
}

func (e *Engine) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	level, err := ParseStealthLevel(req.StealthLevel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	info, err := e.OpenPage(r.Context(), req.URL, level)
	if err != nil {
		shield.GetLogger(r.Context()).Warn("tablesniff: open page failed", "url", req.URL, "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (e *Engine) handleList(w http.ResponseWriter, r *http.Request) {
	includeHidden, _ := strconv.ParseBool(r.URL.Query().Get("include_hidden"))
	sums, err := e.ListTables(r.Context(), chi.URLParam(r, "pageID"), includeHidden)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if sums == nil {
		sums = []table.Summary{}
	}
	writeJSON(w, http.StatusOK, sums)
}

func (e *Engine) handleData(w http.ResponseWriter, r *http.Request) {
	id, ok := tableID(w, r)
	if !ok {
		return
	}
	grid, err := e.TableData(r.Context(), chi.URLParam(r, "pageID"), id)
	if errors.Is(err, table.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, nil)
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

func (e *Engine) handleHighlight(w http.ResponseWriter, r *http.Request) {
	id, ok := tableID(w, r)
	if !ok {
		return
	}
	if err := e.Highlight(r.Context(), chi.URLParam(r, "pageID"), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"highlighted": id})
}

func (e *Engine) handleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := tableID(w, r)
	if !ok {
		return
	}
	var req exportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
			return
		}
	}
	format, ok := table.ParseFormat(req.Format)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: format %q", ErrInvalidInput, req.Format))
		return
	}
	target, err := ParseTarget(req.Target)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	exp, err := e.Export(r.Context(), chi.URLParam(r, "pageID"), id, format, target)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Export: exp, Target: target})
}

func (e *Engine) handleAuto(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")
	if !e.pages.Contains(pageID) {
		writeError(w, http.StatusNotFound, fmt.Errorf("tablesniff: page %s: %w", pageID, table.ErrNotFound))
		return
	}
	exp, err := e.AutoDownload(r.Context(), pageID)
	if err != nil {
		shield.GetLogger(r.Context()).Info("tablesniff: auto-download failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "filename": exp.Filename, "rows": exp.Rows})
}

func (e *Engine) handleHistory(w http.ResponseWriter, r *http.Request) {
	if e.history == nil {
		writeError(w, http.StatusNotFound, errors.New("export history is not enabled"))
		return
	}
	q := r.URL.Query()
	f := history.Filter{PageID: q.Get("page_id"), Status: q.Get("status")}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: limit %q", ErrInvalidInput, s))
			return
		}
		f.Limit = n
	}
	entries, err := e.History(r.Context(), f)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (e *Engine) handleSetOptions(w http.ResponseWriter, r *http.Request) {
	var opts table.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	saved, err := e.SetOptions(r.Context(), opts)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func tableID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: table id %q", ErrInvalidInput, chi.URLParam(r, "id")))
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, table.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, table.ErrNoCandidates), errors.Is(err, table.ErrEmptyExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, table.ErrDelivery):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
