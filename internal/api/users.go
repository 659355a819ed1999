package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"notiq/internal/blob"
	"notiq/internal/db"
)

type UserHandler struct {
	users   *db.UserRepository
	avatars *blob.Service
	baseURL string
}

func NewUserHandler(users *db.UserRepository, avatars *blob.Service, baseURL string) *UserHandler {
	return &UserHandler{users: users, avatars: avatars, baseURL: baseURL}
}

// GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	writeSuccess(w, http.StatusOK, "User fetched successfully", user)
}

type UpdateAccountRequest struct {
	FullName string `json:"fullName" validate:"max=100"`
	Email    string `json:"email" validate:"max=254"`
}

// PATCH /api/v1/users/me
func (h *UserHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	var req UpdateAccountRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.FullName == "" || req.Email == "" {
		badRequest(w, "All fields are required")
		return
	}

	err := h.users.UpdateAccount(r.Context(), userID, req.FullName, req.Email)
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, "User not found")
		return
	}
	if errors.Is(err, db.ErrDuplicate) {
		conflict(w, "Email already in use")
		return
	}
	if err != nil {
		slog.Error("error updating account details", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		slog.Error("error finding user", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	slog.Info("account details updated", "user_id", userID)
	writeSuccess(w, http.StatusOK, "Account details updated successfully", user)
}

// PATCH /api/v1/users/me/avatar
func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	if err := r.ParseMultipartForm(h.avatars.MaxUploadBytes()); err != nil {
		badRequest(w, "invalid multipart form")
		return
	}

	file, _, err := r.FormFile("avatar")
	if errors.Is(err, http.ErrMissingFile) {
		badRequest(w, "Avatar file is missing")
		return
	}
	if err != nil {
		badRequest(w, "invalid avatar upload")
		return
	}
	defer file.Close()

	stored, err := h.avatars.Save(file)
	if err != nil {
		if errors.Is(err, blob.ErrFileTooLarge) || errors.Is(err, blob.ErrDisallowedType) || errors.Is(err, blob.ErrExecutableFile) {
			badRequest(w, err.Error())
			return
		}
		slog.Error("error uploading avatar", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "Error uploading avatar")
		return
	}

	avatarURL := strings.TrimSuffix(h.baseURL, "/") + "/media/avatars/" + stored.ID

	if err := h.users.UpdateAvatarURL(r.Context(), userID, avatarURL); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			notFound(w, "User not found")
			return
		}
		slog.Error("error updating avatar url", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		slog.Error("error finding user", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	slog.Info("avatar updated", "user_id", userID)
	writeSuccess(w, http.StatusOK, "Avatar image updated successfully", user)
}
