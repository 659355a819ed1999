package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"notiq/internal/blob"
)

type MediaHandler struct {
	avatars *blob.Service
}

func NewMediaHandler(avatars *blob.Service) *MediaHandler {
	return &MediaHandler{avatars: avatars}
}

// GET /media/avatars/{avatarID}
func (h *MediaHandler) GetAvatar(w http.ResponseWriter, r *http.Request) {
	avatarID := strings.TrimSpace(chi.URLParam(r, "avatarID"))
	if avatarID == "" {
		notFound(w, "Media not found")
		return
	}

	file, err := h.avatars.Open(avatarID)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, blob.ErrInvalidID) {
		notFound(w, "Media not found")
		return
	}
	if err != nil {
		internalError(w)
		return
	}
	defer file.Close()

	// Sniff the stored file for its content type; only image types are ever
	// accepted at upload time.
	sniff := make([]byte, 512)
	n, err := file.Read(sniff)
	if err != nil && err != io.EOF {
		internalError(w)
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		internalError(w)
		return
	}

	info, err := file.Stat()
	if err != nil {
		internalError(w)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", fmt.Sprintf("%q", avatarID))
	w.Header().Set("Content-Type", http.DetectContentType(sniff[:n]))

	http.ServeContent(w, r, avatarID, info.ModTime(), file)
}
