package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arkadianet/davgate/internal/calendar"
	"github.com/arkadianet/davgate/internal/contacts"
	"github.com/arkadianet/davgate/internal/dav"
	"github.com/arkadianet/davgate/internal/files"
	httperrors "github.com/arkadianet/davgate/internal/http/errors"
	"github.com/arkadianet/davgate/internal/vdir"
)

// handler carries the wired tool services. Any of them may be nil when the
// matching upstream is not configured; its routes then answer 503.
type handler struct {
	services Services
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httperrors.BadRequestError(w, r, err, "unreadable request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid JSON body")
		return false
	}
	return true
}

// writeServiceError maps service-layer failures onto API statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *vdir.ValidationError
	if errors.As(err, &ve) {
		httperrors.BadRequestError(w, r, err, ve.Error())
		return
	}
	var fileNF *files.NotFoundError
	var calNF *calendar.NotFoundError
	var cardNF *contacts.NotFoundError
	if errors.As(err, &fileNF) || errors.As(err, &calNF) || errors.As(err, &cardNF) {
		httperrors.WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	var se *dav.StatusError
	if errors.As(err, &se) {
		httperrors.WriteUpstreamError(w, r, se.Code, err)
		return
	}
	httperrors.InternalError(w, r, err, "tool operation failed")
}

func requireQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "missing required query parameter: "+name)
		return "", false
	}
	return v, true
}

// parseTimeParam accepts RFC 3339 timestamps; empty means unset.
func parseTimeParam(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		httperrors.BadRequestError(w, r, err, name+" must be an RFC 3339 timestamp")
		return time.Time{}, false
	}
	return t, true
}

// --- files ---

func (h *handler) listFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := h.services.Files.List(r.Context(), r.URL.Query().Get("dir"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *handler) statFile(w http.ResponseWriter, r *http.Request) {
	path, ok := requireQuery(w, r, "path")
	if !ok {
		return
	}
	entry, err := h.services.Files.Stat(r.Context(), path)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) readFile(w http.ResponseWriter, r *http.Request) {
	path, ok := requireQuery(w, r, "path")
	if !ok {
		return
	}
	data, err := h.services.Files.ReadFile(r.Context(), path)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *handler) writeFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path        string `json:"path"`
		Content     string `json:"content"`
		ContentType string `json:"content_type"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := h.services.Files.WriteFile(r.Context(), req.Path, []byte(req.Content), req.ContentType); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": req.Path, "written": true})
}

func (h *handler) readFileJSON(w http.ResponseWriter, r *http.Request) {
	path, ok := requireQuery(w, r, "path")
	if !ok {
		return
	}
	v, err := h.services.Files.ReadJSON(r.Context(), path)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "value": v})
}

func (h *handler) writeFileJSON(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path  string          `json:"path"`
		Value json.RawMessage `json:"value"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" || len(req.Value) == 0 {
		httperrors.WriteError(w, http.StatusBadRequest, "path and value are required")
		return
	}
	var v any
	if err := json.Unmarshal(req.Value, &v); err != nil {
		httperrors.BadRequestError(w, r, err, "value must be valid JSON")
		return
	}
	if err := h.services.Files.WriteJSON(r.Context(), req.Path, v); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": req.Path, "written": true})
}

func (h *handler) mkdir(w http.ResponseWriter, r *http.Request) {
	h.pathAction(w, r, h.services.Files.Mkdir)
}

func (h *handler) removeDir(w http.ResponseWriter, r *http.Request) {
	h.pathAction(w, r, h.services.Files.RemoveDir)
}

func (h *handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	h.pathAction(w, r, h.services.Files.DeleteFile)
}

func (h *handler) pathAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, path string) error) {
	var req struct {
		Path string `json:"path"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := fn(r.Context(), req.Path); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": req.Path, "ok": true})
}

func (h *handler) copyFile(w http.ResponseWriter, r *http.Request) {
	h.srcDstAction(w, r, h.services.Files.Copy)
}

func (h *handler) moveFile(w http.ResponseWriter, r *http.Request) {
	h.srcDstAction(w, r, h.services.Files.Move)
}

func (h *handler) srcDstAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, src, dst string) error) {
	var req struct {
		Src string `json:"src"`
		Dst string `json:"dst"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Src == "" || req.Dst == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "src and dst are required")
		return
	}
	if err := fn(r.Context(), req.Src, req.Dst); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"src": req.Src, "dst": req.Dst, "ok": true})
}

func (h *handler) searchFiles(w http.ResponseWriter, r *http.Request) {
	q, ok := requireQuery(w, r, "q")
	if !ok {
		return
	}
	entries, err := h.services.Files.Search(r.Context(), r.URL.Query().Get("scope"), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// --- calendar ---

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	start, ok := parseTimeParam(w, r, "start")
	if !ok {
		return
	}
	end, ok := parseTimeParam(w, r, "end")
	if !ok {
		return
	}
	objects, err := h.services.Calendar.EventsInRange(r.Context(), start, end)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": objects})
}

func (h *handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Summary     string    `json:"summary"`
		Start       time.Time `json:"start"`
		End         time.Time `json:"end"`
		Description string    `json:"description"`
		Location    string    `json:"location"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Summary == "" || req.Start.IsZero() || req.End.IsZero() {
		httperrors.WriteError(w, http.StatusBadRequest, "summary, start, and end are required")
		return
	}
	uid, err := h.services.Calendar.CreateEvent(r.Context(), calendar.EventInput{
		Summary:     req.Summary,
		Start:       req.Start,
		End:         req.End,
		Description: req.Description,
		Location:    req.Location,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"uid": uid})
}

func (h *handler) getEvent(w http.ResponseWriter, r *http.Request) {
	obj, err := h.services.Calendar.ReadEvent(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (h *handler) patchEvent(w http.ResponseWriter, r *http.Request) {
	updates, ok := h.parseUpdates(w, r)
	if !ok {
		return
	}
	obj, err := h.services.Calendar.EditEvent(r.Context(), chi.URLParam(r, "uid"), updates)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (h *handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if err := h.services.Calendar.DeleteEvent(r.Context(), uid); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uid": uid, "deleted": true})
}

func (h *handler) searchEvents(w http.ResponseWriter, r *http.Request) {
	q, ok := requireQuery(w, r, "q")
	if !ok {
		return
	}
	objects, err := h.services.Calendar.SearchEvents(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": objects})
}

func (h *handler) agenda(w http.ResponseWriter, r *http.Request) {
	start, ok := parseTimeParam(w, r, "start")
	if !ok {
		return
	}
	end, ok := parseTimeParam(w, r, "end")
	if !ok {
		return
	}
	items, err := h.services.Calendar.Agenda(r.Context(), start, end)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *handler) listTasks(w http.ResponseWriter, r *http.Request) {
	objects, err := h.services.Calendar.Tasks(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": objects})
}

func (h *handler) createTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Summary     string    `json:"summary"`
		Due         time.Time `json:"due"`
		Description string    `json:"description"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Summary == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "summary is required")
		return
	}
	uid, err := h.services.Calendar.CreateTask(r.Context(), calendar.TaskInput{
		Summary:     req.Summary,
		Due:         req.Due,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"uid": uid})
}

func (h *handler) patchTask(w http.ResponseWriter, r *http.Request) {
	updates, ok := h.parseUpdates(w, r)
	if !ok {
		return
	}
	obj, err := h.services.Calendar.EditTask(r.Context(), chi.URLParam(r, "uid"), updates)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (h *handler) completeTask(w http.ResponseWriter, r *http.Request) {
	obj, err := h.services.Calendar.CompleteTask(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (h *handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if err := h.services.Calendar.DeleteTask(r.Context(), uid); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uid": uid, "deleted": true})
}

// parseUpdates reads the request body as a merge-edit update set.
func (h *handler) parseUpdates(w http.ResponseWriter, r *http.Request) (*vdir.UpdateSet, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httperrors.BadRequestError(w, r, err, "unreadable request body")
		return nil, false
	}
	updates, err := vdir.ParseUpdates(body)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	return updates, true
}

// --- contacts ---

func (h *handler) listContacts(w http.ResponseWriter, r *http.Request) {
	cards, err := h.services.Contacts.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": cards})
}

func (h *handler) searchContacts(w http.ResponseWriter, r *http.Request) {
	q, ok := requireQuery(w, r, "q")
	if !ok {
		return
	}
	cards, err := h.services.Contacts.Search(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": cards})
}

func (h *handler) createContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FullName == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "full_name is required")
		return
	}
	uid, err := h.services.Contacts.Create(r.Context(), contacts.CardInput{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"uid": uid})
}

func (h *handler) getContact(w http.ResponseWriter, r *http.Request) {
	card, err := h.services.Contacts.Read(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *handler) patchContact(w http.ResponseWriter, r *http.Request) {
	updates, ok := h.parseUpdates(w, r)
	if !ok {
		return
	}
	card, err := h.services.Contacts.Edit(r.Context(), chi.URLParam(r, "uid"), updates)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (h *handler) deleteContact(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	if err := h.services.Contacts.Delete(r.Context(), uid); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"uid": uid, "deleted": true})
}

// --- audit ---

func (h *handler) recentAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httperrors.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	invocations, err := h.services.Audit.RecentInvocations(r.Context(), limit)
	if err != nil {
		httperrors.InternalError(w, r, err, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invocations": invocations})
}
