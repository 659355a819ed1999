package api

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"notiq/internal/auth"
	"notiq/internal/blob"
	"notiq/internal/constants"
	"notiq/internal/db"
	"notiq/internal/models"
)

// ResetMailer delivers password-reset mail. Satisfied by email.SMTPService.
type ResetMailer interface {
	SendPasswordReset(to, resetLink string, ttl time.Duration) error
}

type AuthHandler struct {
	users           *db.UserRepository
	tokens          *auth.TokenService
	resetTokens     *auth.ResetTokenService
	mailer          ResetMailer
	avatars         *blob.Service
	baseURL         string
	frontendURL     string
	sendResetEmails bool
	bcryptCost      int
}

func NewAuthHandler(
	users *db.UserRepository,
	tokens *auth.TokenService,
	resetTokens *auth.ResetTokenService,
	mailer ResetMailer,
	avatars *blob.Service,
	baseURL string,
	frontendURL string,
	sendResetEmails bool,
	bcryptCost int,
) *AuthHandler {
	return &AuthHandler{
		users:           users,
		tokens:          tokens,
		resetTokens:     resetTokens,
		mailer:          mailer,
		avatars:         avatars,
		baseURL:         baseURL,
		frontendURL:     frontendURL,
		sendResetEmails: sendResetEmails,
		bcryptCost:      bcryptCost,
	}
}

type RegisterRequest struct {
	FullName string `json:"fullName" validate:"max=100"`
	Email    string `json:"email" validate:"max=254"`
	Username string `json:"username" validate:"max=32"`
	Password string `json:"password" validate:"max=128"`
}

// POST /api/v1/auth/register
//
// Accepts JSON or multipart form data; the multipart form may carry an
// optional "avatar" file which is stored before the user record is created.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, avatarURL, ok := h.decodeRegister(w, r)
	if !ok {
		return
	}

	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))

	if req.FullName == "" || req.Email == "" || req.Username == "" || req.Password == "" {
		slog.Warn("registration failed: one or more required fields are empty")
		badRequest(w, "All fields are required")
		return
	}

	exists, err := h.users.ExistsByUsernameOrEmail(r.Context(), req.Username, req.Email)
	if err != nil {
		slog.Error("error checking user existence", "error", err)
		internalError(w)
		return
	}
	if exists {
		slog.Warn("registration failed: user already exists", "username", req.Username)
		conflict(w, "User with email or username already exists")
		return
	}

	passwordHash, err := auth.HashPassword(req.Password, h.bcryptCost)
	if err != nil {
		slog.Error("error hashing password", "error", err)
		internalError(w)
		return
	}

	user, err := h.users.Create(r.Context(), req.Username, req.Email, req.FullName, passwordHash, avatarURL)
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			conflict(w, "User with email or username already exists")
			return
		}
		slog.Error("error creating user", "error", err)
		internalError(w)
		return
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username)
	writeSuccess(w, http.StatusCreated, "User registered successfully", user)
}

// decodeRegister parses the registration payload and, for multipart
// requests, stores the optional avatar up front. The avatar upload happens
// before user creation: an upload failure means no user record.
func (h *AuthHandler) decodeRegister(w http.ResponseWriter, r *http.Request) (RegisterRequest, *string, bool) {
	var req RegisterRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		if err := decodeAndValidate(r.Body, &req); err != nil {
			badRequest(w, err.Error())
			return req, nil, false
		}
		return req, nil, true
	}

	if err := r.ParseMultipartForm(h.avatars.MaxUploadBytes()); err != nil {
		badRequest(w, "invalid multipart form")
		return req, nil, false
	}
	req.FullName = r.FormValue("fullName")
	req.Email = r.FormValue("email")
	req.Username = r.FormValue("username")
	req.Password = r.FormValue("password")

	file, _, err := r.FormFile("avatar")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil, true
	}
	if err != nil {
		badRequest(w, "invalid avatar upload")
		return req, nil, false
	}
	defer file.Close()

	stored, err := h.avatars.Save(file)
	if err != nil {
		if errors.Is(err, blob.ErrFileTooLarge) || errors.Is(err, blob.ErrDisallowedType) || errors.Is(err, blob.ErrExecutableFile) {
			badRequest(w, err.Error())
			return req, nil, false
		}
		slog.Error("error uploading avatar", "error", err)
		writeError(w, http.StatusInternalServerError, "Error uploading avatar")
		return req, nil, false
	}

	url := h.avatarURL(stored.ID)
	return req, &url, true
}

func (h *AuthHandler) avatarURL(avatarID string) string {
	return fmt.Sprintf("%s/media/avatars/%s", strings.TrimSuffix(h.baseURL, "/"), avatarID)
}

type LoginRequest struct {
	Username string `json:"username" validate:"max=32"`
	Email    string `json:"email" validate:"max=254"`
	Password string `json:"password" validate:"max=128"`
}

type SessionResponse struct {
	User         *models.User `json:"user,omitempty"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.Username == "" && req.Email == "" {
		badRequest(w, "username or email is required")
		return
	}

	user, err := h.users.FindByUsernameOrEmail(r.Context(), req.Username, req.Email)
	if errors.Is(err, db.ErrNotFound) {
		slog.Warn("login failed: user does not exist", "username", req.Username)
		notFound(w, "Invalid email or password")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	if !auth.VerifyPassword(user.PasswordHash, req.Password) {
		slog.Warn("login failed: invalid credentials", "user_id", user.ID)
		unauthorized(w, "Invalid user credentials")
		return
	}

	accessToken, refreshToken, err := h.issueSession(r, w, user)
	if err != nil {
		slog.Error("error issuing session", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	slog.Info("user logged in", "user_id", user.ID, "username", user.Username)
	writeSuccess(w, http.StatusOK, "User logged in successfully", SessionResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	// Idempotent: logging out twice is not an error.
	if err := h.users.ClearRefreshToken(r.Context(), userID); err != nil {
		slog.Error("error clearing refresh token", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	clearAuthCookies(w)
	writeSuccess(w, http.StatusOK, "User logged out", nil)
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	incoming := refreshTokenFromRequest(r)
	if incoming == "" {
		slog.Warn("refresh failed: missing refresh token")
		unauthorized(w, "Unauthorized request")
		return
	}

	claims, err := h.tokens.VerifyRefreshToken(incoming)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			unauthorized(w, "Refresh token has expired")
			return
		}
		unauthorized(w, "Invalid refresh token")
		return
	}

	user, err := h.users.FindByID(r.Context(), claims.Subject)
	if errors.Is(err, db.ErrNotFound) {
		slog.Warn("refresh failed: user not found", "user_id", claims.Subject)
		unauthorized(w, "Invalid refresh token")
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	// Reuse detection: the presented token must be the one currently stored.
	// A previously valid but since-rotated token is rejected, not treated as
	// merely expired.
	if user.RefreshTokenHash == nil || !auth.TokenHashEquals(*user.RefreshTokenHash, incoming) {
		slog.Warn("refresh token mismatch or reused token detected", "user_id", user.ID)
		unauthorized(w, "Refresh token is expired or used")
		return
	}

	accessToken, refreshToken, err := h.issueSession(r, w, user)
	if err != nil {
		slog.Error("error rotating session", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	slog.Info("access token refreshed", "user_id", user.ID)
	writeSuccess(w, http.StatusOK, "Access token refreshed", SessionResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	})
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"max=128"`
	NewPassword string `json:"newPassword" validate:"max=128"`
}

// POST /api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r)
	if userID == "" {
		unauthorized(w, "Unauthorized request")
		return
	}

	var req ChangePasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if req.NewPassword == "" {
		badRequest(w, "New password field can't be empty")
		return
	}
	if req.OldPassword == req.NewPassword {
		badRequest(w, "New password must be different from old password")
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

	if !auth.VerifyPassword(user.PasswordHash, req.OldPassword) {
		slog.Warn("password change failed: invalid old password", "user_id", userID)
		badRequest(w, "Invalid old password")
		return
	}

	passwordHash, err := auth.HashPassword(req.NewPassword, h.bcryptCost)
	if err != nil {
		slog.Error("error hashing password", "error", err)
		internalError(w)
		return
	}

	if err := h.users.UpdatePassword(r.Context(), userID, passwordHash); err != nil {
		slog.Error("error updating password", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	slog.Info("password changed", "user_id", userID)
	writeSuccess(w, http.StatusOK, "Password changed successfully", nil)
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"max=254"`
}

const resetGenericMessage = "If an account with that email exists, a reset link has been sent"

// POST /api/v1/auth/forgot-password
//
// Responds identically whether or not the email belongs to an account, to
// avoid user enumeration.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" {
		badRequest(w, "Email is required")
		return
	}

	user, err := h.users.FindByEmail(r.Context(), req.Email)
	if errors.Is(err, db.ErrNotFound) {
		slog.Warn("password reset requested for unknown email")
		writeSuccess(w, http.StatusOK, resetGenericMessage, nil)
		return
	}
	if err != nil {
		slog.Error("error finding user", "error", err)
		internalError(w)
		return
	}

	token, err := h.resetTokens.GenerateToken()
	if err != nil {
		slog.Error("error generating reset token", "error", err)
		internalError(w)
		return
	}

	expiresAt := h.resetTokens.ExpiresAt()
	if err := h.users.SetResetToken(r.Context(), user.ID, auth.HashToken(token), expiresAt); err != nil {
		slog.Error("error storing reset token", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	resetLink := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimSuffix(h.frontendURL, "/"), token)

	if h.sendResetEmails {
		if err := h.mailer.SendPasswordReset(user.Email, resetLink, h.resetTokens.TTL()); err != nil {
			slog.Error("error sending password reset email", "error", err, "user_id", user.ID)
			writeError(w, http.StatusInternalServerError, "Error processing password reset request")
			return
		}
		slog.Info("password reset email sent", "user_id", user.ID)
	} else {
		// Delivery disabled by configuration: surface the link for local use.
		slog.Info("password reset token generated (email delivery disabled)",
			"user_id", user.ID,
			"reset_link", resetLink,
			"expires_at", expiresAt.UTC().Format(time.RFC3339),
		)
	}

	writeSuccess(w, http.StatusOK, resetGenericMessage, nil)
}

type ValidateResetTokenRequest struct {
	Token string `json:"token" validate:"max=128"`
}

// POST /api/v1/auth/validate-reset-token
//
// Read-only pre-check; does not consume the token.
func (h *AuthHandler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	var req ValidateResetTokenRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if req.Token == "" {
		badRequest(w, "Reset token is required")
		return
	}

	if _, err := h.users.FindByValidResetToken(r.Context(), auth.HashToken(req.Token)); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			slog.Warn("reset token validation failed: invalid or expired token")
			badRequest(w, "Invalid or expired reset token")
			return
		}
		slog.Error("error validating reset token", "error", err)
		internalError(w)
		return
	}

	writeSuccess(w, http.StatusOK, "Reset token is valid", map[string]bool{"valid": true})
}

type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"max=128"`
	NewPassword string `json:"newPassword" validate:"max=128"`
}

// POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if req.Token == "" || req.NewPassword == "" {
		badRequest(w, "Reset token and new password are required")
		return
	}
	if len(req.NewPassword) < 6 {
		badRequest(w, "Password must be at least 6 characters long")
		return
	}

	user, err := h.users.FindByValidResetToken(r.Context(), auth.HashToken(req.Token))
	if errors.Is(err, db.ErrNotFound) {
		slog.Warn("password reset failed: invalid or expired token")
		badRequest(w, "Invalid or expired reset token")
		return
	}
	if err != nil {
		slog.Error("error finding reset token", "error", err)
		internalError(w)
		return
	}

	passwordHash, err := auth.HashPassword(req.NewPassword, h.bcryptCost)
	if err != nil {
		slog.Error("error hashing password", "error", err)
		internalError(w)
		return
	}

	if err := h.users.ConsumeResetToken(r.Context(), user.ID, passwordHash); err != nil {
		slog.Error("error consuming reset token", "error", err, "user_id", user.ID)
		internalError(w)
		return
	}

	slog.Info("password reset completed", "user_id", user.ID)
	writeSuccess(w, http.StatusOK, "Password reset successfully", nil)
}

// issueSession issues a fresh token pair, overwrites the stored refresh
// credential (single active session per user), and sets both cookies.
func (h *AuthHandler) issueSession(r *http.Request, w http.ResponseWriter, user *models.User) (string, string, error) {
	accessToken, _, err := h.tokens.IssueAccessToken(user)
	if err != nil {
		return "", "", err
	}

	refreshToken, _, err := h.tokens.IssueRefreshToken(user.ID)
	if err != nil {
		return "", "", err
	}

	if err := h.users.SetRefreshTokenHash(r.Context(), user.ID, auth.HashToken(refreshToken)); err != nil {
		return "", "", err
	}

	setAuthCookies(w, accessToken, refreshToken, h.tokens.AccessTokenTTL(), h.tokens.RefreshTokenTTL())
	return accessToken, refreshToken, nil
}

func refreshTokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(constants.RefreshTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var req RefreshRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		return ""
	}
	return strings.TrimSpace(req.RefreshToken)
}
