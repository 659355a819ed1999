package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"notiq/internal/auth"
	"notiq/internal/blob"
	"notiq/internal/db"
	"notiq/internal/models"
)

const (
	testAccessSecret  = "test-access-secret-0123456789abcdef0123"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef012"
)

// testResponse mirrors the wire envelope for decoding in assertions.
type testResponse struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	Count        *int            `json:"count"`
	DeletedCount *int64          `json:"deletedCount"`
	Data         json.RawMessage `json:"data"`
}

type recordingMailer struct {
	fail     bool
	lastTo   string
	lastLink string
	sent     int
}

func (m *recordingMailer) SendPasswordReset(to, resetLink string, ttl time.Duration) error {
	if m.fail {
		return errors.New("smtp unavailable")
	}
	m.lastTo = to
	m.lastLink = resetLink
	m.sent++
	return nil
}

type testEnv struct {
	users  *db.UserRepository
	notes  *db.NoteRepository
	tokens *auth.TokenService
	mailer *recordingMailer

	auth  *AuthHandler
	userH *UserHandler
	noteH *NoteHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database := openTestDB(t)
	users := db.NewUserRepository(database)
	notes := db.NewNoteRepository(database)
	tokens := auth.NewTokenService(testAccessSecret, testRefreshSecret, 15*time.Minute, 30*24*time.Hour)
	resetTokens := auth.NewResetTokenService(time.Hour)
	mailer := &recordingMailer{}

	avatars, err := blob.NewService(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("blob.NewService() error = %v", err)
	}

	env := &testEnv{
		users:  users,
		notes:  notes,
		tokens: tokens,
		mailer: mailer,
	}
	env.auth = NewAuthHandler(users, tokens, resetTokens, mailer, avatars,
		"http://localhost:8080", "http://localhost:5173", true, bcrypt.MinCost)
	env.userH = NewUserHandler(users, avatars, "http://localhost:8080")
	env.noteH = NewNoteHandler(notes)

	return env
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

// createUser inserts a user directly through the repository, bypassing the
// registration endpoint.
func (env *testEnv) createUser(t *testing.T, username, email, password string) *models.User {
	t.Helper()

	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	user, err := env.users.Create(context.Background(), username, email, "Test User", hash, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return user
}

func (env *testEnv) login(t *testing.T, email, password string) (*httptest.ResponseRecorder, SessionResponse) {
	t.Helper()

	body := `{"email":"` + email + `","password":"` + password + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	rr := httptest.NewRecorder()
	env.auth.Login(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d, body=%q", rr.Code, http.StatusOK, rr.Body.String())
	}

	resp := decodeResponse(t, rr)
	var session SessionResponse
	if err := json.Unmarshal(resp.Data, &session); err != nil {
		t.Fatalf("json.Unmarshal(session) error = %v, body=%q", err, rr.Body.String())
	}
	return rr, session
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) testResponse {
	t.Helper()

	var resp testResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
	return resp
}

func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func encodeTestPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.White)

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

// multipartRegisterBody builds a registration form carrying an avatar file.
func multipartRegisterBody(t *testing.T, username, email string, avatar []byte) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := map[string]string{
		"fullName": "Jane Doe",
		"email":    email,
		"username": username,
		"password": "hunter22",
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("WriteField(%s) error = %v", name, err)
		}
	}

	part, err := writer.CreateFormFile("avatar", "avatar.png")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := part.Write(avatar); err != nil {
		t.Fatalf("writing avatar part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close() error = %v", err)
	}

	return &buf, writer.FormDataContentType()
}

func responseCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
