package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"notiq/internal/db"
	"notiq/internal/models"
)

type NoteHandler struct {
	notes     *db.NoteRepository
	sanitizer *bluemonday.Policy
}

func NewNoteHandler(notes *db.NoteRepository) *NoteHandler {
	return &NoteHandler{
		notes:     notes,
		sanitizer: bluemonday.UGCPolicy(),
	}
}

type CreateNoteRequest struct {
	Title    string   `json:"title" validate:"max=200"`
	Content  string   `json:"content" validate:"max=100000"`
	Tags     []string `json:"tags" validate:"max=32,dive,max=50"`
	IsPinned bool     `json:"isPinned"`
}

// POST /api/v1/notes
func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	var req CreateNoteRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	title := strings.TrimSpace(h.sanitizer.Sanitize(req.Title))
	if title == "" {
		slog.Warn("attempt to create note without title", "user_id", userID)
		badRequest(w, "Title is required")
		return
	}

	note, err := h.notes.Create(
		r.Context(),
		userID,
		title,
		h.sanitizer.Sanitize(req.Content),
		normalizeTags(req.Tags),
		req.IsPinned,
	)
	if err != nil {
		slog.Error("error creating note", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	slog.Info("note created", "user_id", userID, "note_id", note.ID)
	writeSuccess(w, http.StatusCreated, "Note created successfully", note)
}

// GET /api/v1/notes
//
// Filters: search (title/content substring), tags (comma-separated, any
// match), isPinned, isArchived. Archived notes are excluded unless asked for.
func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	q := r.URL.Query()
	filter := db.NoteFilter{
		Archived: q.Get("isArchived") == "true",
		Search:   strings.TrimSpace(q.Get("search")),
	}
	if v := q.Get("isPinned"); v != "" {
		pinned := v == "true"
		filter.Pinned = &pinned
	}
	if v := q.Get("tags"); v != "" {
		filter.Tags = normalizeTags(strings.Split(v, ","))
	}

	notes, err := h.notes.List(r.Context(), userID, filter)
	if err != nil {
		slog.Error("error listing notes", "error", err, "user_id", userID)
		internalError(w)
		return
	}
	if notes == nil {
		notes = []*models.Note{}
	}

	writeList(w, len(notes), notes)
}

// GET /api/v1/notes/{id}
func (h *NoteHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	note, err := h.notes.FindByID(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Note not found")
		return
	}
	if err != nil {
		slog.Error("error finding note", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, Response{Success: true, Data: note})
}

type UpdateNoteRequest struct {
	Title    *string   `json:"title"`
	Content  *string   `json:"content"`
	Tags     *[]string `json:"tags"`
	IsPinned *bool     `json:"isPinned"`
}

// PATCH /api/v1/notes/{id}
func (h *NoteHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	var req UpdateNoteRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	note, err := h.notes.FindByID(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		slog.Warn("attempt to update non-existent note", "user_id", userID, "note_id", chi.URLParam(r, "id"))
		notFound(w, "Note not found")
		return
	}
	if err != nil {
		slog.Error("error finding note", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(h.sanitizer.Sanitize(*req.Title))
		if title == "" {
			badRequest(w, "Title is required")
			return
		}
		note.Title = title
	}
	if req.Content != nil {
		note.Content = h.sanitizer.Sanitize(*req.Content)
	}
	if req.Tags != nil {
		note.Tags = normalizeTags(*req.Tags)
	}
	if req.IsPinned != nil {
		note.IsPinned = *req.IsPinned
	}

	if err := h.notes.Update(r.Context(), note); err != nil {
		slog.Error("error updating note", "error", err, "user_id", userID, "note_id", note.ID)
		internalError(w)
		return
	}

	slog.Info("note updated", "user_id", userID, "note_id", note.ID)
	writeSuccess(w, http.StatusOK, "Note updated successfully", note)
}

// DELETE /api/v1/notes/{id}
func (h *NoteHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	noteID := chi.URLParam(r, "id")
	err := h.notes.Delete(r.Context(), userID, noteID)
	if errors.Is(err, db.ErrNotFound) {
		slog.Warn("attempt to delete non-existent note", "user_id", userID, "note_id", noteID)
		notFound(w, "Note not found")
		return
	}
	if err != nil {
		slog.Error("error deleting note", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	slog.Info("note deleted", "user_id", userID, "note_id", noteID)
	writeSuccess(w, http.StatusOK, "Note deleted successfully", nil)
}

// PATCH /api/v1/notes/{id}/pin
func (h *NoteHandler) TogglePin(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	note, err := h.notes.FindByID(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Note not found")
		return
	}
	if err != nil {
		slog.Error("error finding note", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	note.IsPinned = !note.IsPinned
	if err := h.notes.Update(r.Context(), note); err != nil {
		slog.Error("error toggling pin", "error", err, "user_id", userID, "note_id", note.ID)
		internalError(w)
		return
	}

	action := "unpinned"
	if note.IsPinned {
		action = "pinned"
	}
	slog.Info("note "+action, "user_id", userID, "note_id", note.ID)
	writeSuccess(w, http.StatusOK, fmt.Sprintf("Note %s successfully", action), note)
}

// PATCH /api/v1/notes/{id}/archive
func (h *NoteHandler) Archive(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	note, err := h.notes.FindByID(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Note not found")
		return
	}
	if err != nil {
		slog.Error("error finding note", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	// Archiving also unpins.
	note.IsArchived = true
	note.IsPinned = false
	if err := h.notes.Update(r.Context(), note); err != nil {
		slog.Error("error archiving note", "error", err, "user_id", userID, "note_id", note.ID)
		internalError(w)
		return
	}

	slog.Info("note archived", "user_id", userID, "note_id", note.ID)
	writeSuccess(w, http.StatusOK, "Note archived successfully", note)
}

// PATCH /api/v1/notes/{id}/unarchive
func (h *NoteHandler) Unarchive(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	note, err := h.notes.FindByID(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "Note not found")
		return
	}
	if err != nil {
		slog.Error("error finding note", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	note.IsArchived = false
	if err := h.notes.Update(r.Context(), note); err != nil {
		slog.Error("error unarchiving note", "error", err, "user_id", userID, "note_id", note.ID)
		internalError(w)
		return
	}

	slog.Info("note unarchived", "user_id", userID, "note_id", note.ID)
	writeSuccess(w, http.StatusOK, "Note unarchived successfully", note)
}

// GET /api/v1/notes/tags/all
func (h *NoteHandler) Tags(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	tags, err := h.notes.DistinctTags(r.Context(), userID)
	if err != nil {
		slog.Error("error fetching tags", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	writeList(w, len(tags), tags)
}

type BulkDeleteRequest struct {
	NoteIDs []string `json:"noteIds" validate:"max=500,dive,max=64"`
}

// POST /api/v1/notes/bulk-delete
func (h *NoteHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	var req BulkDeleteRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if len(req.NoteIDs) == 0 {
		slog.Warn("invalid bulk delete request", "user_id", userID)
		badRequest(w, "Please provide an array of note IDs")
		return
	}

	deleted, err := h.notes.BulkDelete(r.Context(), userID, req.NoteIDs)
	if err != nil {
		slog.Error("error bulk deleting notes", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	slog.Info("bulk notes deleted", "user_id", userID, "deleted_count", deleted)
	writeJSON(w, http.StatusOK, Response{
		Success:      true,
		Message:      fmt.Sprintf("%d note(s) deleted successfully", deleted),
		DeletedCount: &deleted,
	})
}

// normalizeTags lowercases and trims tags, dropping empties and duplicates.
func normalizeTags(tags []string) []string {
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		normalized = append(normalized, tag)
	}
	return normalized
}
