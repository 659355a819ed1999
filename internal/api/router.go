package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"notiq/internal/auth"
	"notiq/internal/blob"
	"notiq/internal/config"
	"notiq/internal/db"
)

type Server struct {
	router *chi.Mux
	config *config.Config
}

func NewServer(
	cfg *config.Config,
	database *db.DB,
	mailer ResetMailer,
	avatars *blob.Service,
) (*Server, error) {
	userRepo := db.NewUserRepository(database)
	noteRepo := db.NewNoteRepository(database)

	tokenService := auth.NewTokenService(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	resetService := auth.NewResetTokenService(cfg.Auth.ResetTokenTTL)

	authHandler := NewAuthHandler(
		userRepo,
		tokenService,
		resetService,
		mailer,
		avatars,
		cfg.Server.BaseURL,
		cfg.Server.FrontendURL,
		cfg.Email.SendResetEmails,
		cfg.Auth.BcryptCost,
	)
	userHandler := NewUserHandler(userRepo, avatars, cfg.Server.BaseURL)
	noteHandler := NewNoteHandler(noteRepo)
	mediaHandler := NewMediaHandler(avatars)
	healthHandler := NewHealthHandler(database)

	authMiddleware := NewAuthMiddleware(tokenService)

	loginLimiter := NewRateLimiter(10, time.Minute)
	refreshLimiter := NewRateLimiter(30, time.Minute)
	resetLimiter := NewRateLimiter(5, time.Minute)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware)
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)
	r.Get("/media/avatars/{avatarID}", mediaHandler.GetAvatar)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))
		r.Use(maxBodySizeMiddleware(10 << 20)) // 10 MB, bounded further by the avatar size cap

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.With(RateLimitMiddleware(loginLimiter)).Post("/login", authHandler.Login)
			r.With(RateLimitMiddleware(refreshLimiter)).Post("/refresh", authHandler.Refresh)
			r.With(RateLimitMiddleware(resetLimiter)).Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/validate-reset-token", authHandler.ValidateResetToken)
			r.With(RateLimitMiddleware(resetLimiter)).Post("/reset-password", authHandler.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAuth)
				r.Post("/logout", authHandler.Logout)
				r.Post("/change-password", authHandler.ChangePassword)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Get("/me", userHandler.GetMe)
			r.Patch("/me", userHandler.UpdateAccount)
			r.Patch("/me/avatar", userHandler.UpdateAvatar)
		})

		r.Route("/notes", func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Get("/", noteHandler.List)
			r.Post("/", noteHandler.Create)
			r.Get("/tags/all", noteHandler.Tags)
			r.Post("/bulk-delete", noteHandler.BulkDelete)
			r.Get("/{id}", noteHandler.GetByID)
			r.Patch("/{id}", noteHandler.Update)
			r.Delete("/{id}", noteHandler.Delete)
			r.Patch("/{id}/pin", noteHandler.TogglePin)
			r.Patch("/{id}/archive", noteHandler.Archive)
			r.Patch("/{id}/unarchive", noteHandler.Unarchive)
		})
	})

	return &Server{
		router: r,
		config: cfg,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
