package cablesync

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/cablesync/auth"
	"github.com/hazyhaar/cablesync/cablesync/internal/blob"
	"github.com/hazyhaar/cablesync/cablesync/internal/record"
	"github.com/hazyhaar/cablesync/cablesync/internal/store"
	"github.com/hazyhaar/cablesync/horosafe"
	"github.com/hazyhaar/cablesync/idgen"
	"github.com/hazyhaar/cablesync/observability"
	"github.com/hazyhaar/cablesync/shield"
)

// HandlerConfig configures NewHandler.
type HandlerConfig struct {
	// JWTSecret enables authentication on every /api route when non-empty.
	JWTSecret []byte
	// ImportRoles restricts POST /api/v1/imports to these roles.
	ImportRoles []string
	RequestIDs  idgen.Generator
}

type handler struct {
	engine *Engine
}

// NewHandler returns the HTTP API of e.
func NewHandler(e *Engine, cfg HandlerConfig) http.Handler {
	if cfg.RequestIDs == nil {
		cfg.RequestIDs = idgen.Prefixed("req_", idgen.Default)
	}
	h := &handler{engine: e}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.DefaultAPIStack(cfg.RequestIDs, e.MaxFileBytes) {
		r.Use(mw)
	}
	r.Use(auth.Middleware(cfg.JWTSecret))

	r.Get("/healthz", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if len(cfg.JWTSecret) > 0 {
				r.Use(auth.RequireAuth(cfg.ImportRoles...))
			}
			r.Post("/imports", h.postImport)
		})
		r.Group(func(r chi.Router) {
			if len(cfg.JWTSecret) > 0 {
				r.Use(auth.RequireAuth())
			}
			r.Get("/heads", h.getHead)
			r.Get("/heads/{headID}/records", h.listRecords)
			r.Get("/heads/{headID}/runs", h.listRuns)
			r.Get("/heads/{headID}/archives", h.listArchives)
			r.Get("/heads/{headID}/audit", h.listAudit)
			r.Get("/runs/{runID}", h.getRun)
			r.Get("/runs/{runID}/file", h.getRunFile)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	OK        bool    `json:"ok"`
	Error     string  `json:"error"`
	Detail    string  `json:"detail,omitempty"`
	Stage     Stage   `json:"stage,omitempty"`
	Retryable bool    `json:"retryable,omitempty"`
	Scope     *Scope  `json:"scope,omitempty"`
	Counts    *Counts `json:"counts,omitempty"`
}

func statusFor(err error) int {
	switch classify(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: errorCode(err), Detail: err.Error()}
	var se *SyncError
	if errors.As(err, &se) {
		resp.Stage = se.Stage
		resp.Retryable = se.Retryable()
		if se.Scope != (Scope{}) {
			scope := se.Scope
			resp.Scope = &scope
		}
		resp.Counts = se.Counts
	}
	writeJSON(w, statusFor(err), resp)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type importResponse struct {
	OK bool `json:"ok"`
	*Result
}

func (h *handler) postImport(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, ErrFileTooLarge)
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "INVALID_MULTIPART", Detail: err.Error()})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "FILE_REQUIRED", Detail: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()

	var data []byte
	if max := h.engine.MaxFileBytes; max > 0 {
		data, err = horosafe.LimitedReadAll(file, max)
	} else {
		data, err = io.ReadAll(file)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	req := Request{
		Scope: Scope{
			Ship:        r.FormValue("ship"),
			Contract:    r.FormValue("contract"),
			Lot:         r.FormValue("lot"),
			ProjectCode: r.FormValue("projectCode"),
		},
		ContainerID: r.FormValue("containerId"),
		Note:        r.FormValue("note"),
		Force:       formBool(r.FormValue("force")),
		FileName:    horosafe.SanitizeFileName(hdr.Filename),
		Data:        data,
	}
	res, err := h.engine.Sync(r.Context(), req)
	if err != nil {
		log.Warn("import rejected", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, importResponse{OK: true, Result: res})
}

func formBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

type headResponse struct {
	OK       bool            `json:"ok"`
	Head     *store.Snapshot `json:"head"`
	ByStatus map[string]int  `json:"byStatus"`
}

func (h *handler) getHead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope := Scope{Ship: q.Get("ship"), Contract: q.Get("contract"), Lot: q.Get("lot"), ProjectCode: q.Get("projectCode")}
	head, err := h.engine.Head(r.Context(), scope)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := h.engine.Store.CountByStatus(r.Context(), head.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	byStatus := make(map[string]int, len(counts))
	for st, n := range counts {
		byStatus[st.String()] = n
	}
	writeJSON(w, http.StatusOK, headResponse{OK: true, Head: head, ByStatus: byStatus})
}

func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) (*store.Snapshot, bool) {
	snap, err := h.engine.Store.GetSnapshot(r.Context(), chi.URLParam(r, "headID"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return snap, true
}

func (h *handler) listRecords(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var f store.RecordFilter
	if s := q.Get("status"); s != "" {
		st, err := record.ParseStatus(strings.ToLower(s))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "INVALID_STATUS", Detail: err.Error()})
			return
		}
		f.Status = &st
	}
	if s := q.Get("missing"); s != "" {
		m := formBool(s)
		f.Missing = &m
	}
	f.Limit = queryUint(r, "limit", 0)
	f.Offset = queryUint(r, "offset", 0)

	recs, err := h.engine.Store.ListRecords(r.Context(), snap.ID, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "snapshotId": snap.ID, "records": recs})
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	runs, err := h.engine.Store.ListRuns(r.Context(), store.RunFilter{HeadID: snap.ID, Limit: queryUint(r, "limit", 50)})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "runs": runs})
}

func (h *handler) listArchives(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	archives, err := h.engine.Store.ListArchives(r.Context(), snap.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if archives == nil {
		archives = []store.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "archives": archives})
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.Store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "run": run})
}

// auditEventTypes are the business events counted per head.
var auditEventTypes = []string{"import.completed", "import.skipped", "import.failed"}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	if h.engine.Audit == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "AUDIT_DISABLED", Detail: "no observability database is configured"})
		return
	}
	snap, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	f := observability.AuditFilter{
		ComponentName: "cablesync",
		HeadID:        snap.ID,
		Status:        q.Get("status"),
		Limit:         queryUint(r, "limit", 50),
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "INVALID_SINCE", Detail: err.Error()})
			return
		}
		f.Since = since
	}
	entries, err := h.engine.Audit.Query(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*observability.AuditEntry{}
	}

	resp := map[string]any{"ok": true, "headId": snap.ID, "entries": entries}
	if h.engine.Events != nil {
		counts := make(map[string]int, len(auditEventTypes))
		for _, typ := range auditEventTypes {
			n, err := h.engine.Events.CountEvents(r.Context(), typ, snap.ID)
			if err != nil {
				writeError(w, err)
				return
			}
			counts[typ] = n
		}
		resp["eventCounts"] = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getRunFile(w http.ResponseWriter, r *http.Request) {
	run, err := h.engine.Store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if h.engine.Blobs == nil || run.FileSHA256 == "" {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "FILE_NOT_RETAINED", Detail: "no raw file was kept for run " + run.ID})
		return
	}
	f, err := h.engine.Blobs.Open(run.FileSHA256, blob.Ext(run.SourceName))
	if errors.Is(err, fs.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "FILE_NOT_RETAINED", Detail: "raw file of run " + run.ID + " is missing"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": horosafe.SanitizeFileName(run.SourceName)}))
	w.Header().Set("X-Content-SHA256", run.FileSHA256)
	if _, err := io.Copy(w, f); err != nil {
		shield.GetLogger(r.Context()).Warn("send run file", "run_id", run.ID, "error", err)
	}
}

func queryUint(r *http.Request, key string, def uint64) uint64 {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}
