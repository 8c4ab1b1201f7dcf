// Package api provides the stowfs HTTP API: authentication, archive
// lifecycle, downloads with byte ranges, folders, shares, and admin
// management of users and provider handles.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/stowfs/internal/logger"
	"github.com/marmos91/stowfs/pkg/api/auth"
	"github.com/marmos91/stowfs/pkg/api/handlers"
	apiMiddleware "github.com/marmos91/stowfs/pkg/api/middleware"
	"github.com/marmos91/stowfs/pkg/restore"
	"github.com/marmos91/stowfs/pkg/store"
	"github.com/marmos91/stowfs/pkg/vault"
)

// RouterConfig carries the collaborators the routes need.
type RouterConfig struct {
	Store          *store.GORMStore
	Vault          *vault.Service
	Engine         *restore.Engine
	JWT            *auth.Service
	TempDir        string
	MetricsEnabled bool
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET /healthz - Liveness probe
//   - GET /metrics - Prometheus metrics (when enabled)
//   - GET /s/{token} - Public share resolution
//   - POST /api/v1/auth/login - User authentication
//   - GET /api/v1/auth/me - Current user info
//   - POST /api/v1/auth/password - Change own password
//   - /api/v1/archives/* - Archive lifecycle and downloads
//   - GET /api/v1/trash - Trashed archive listing
//   - /api/v1/folders/* - Folder management
//   - /api/v1/shares/* - Share management
//   - /api/v1/users/* - User management (admin only)
//   - /api/v1/webhooks/* - Provider handle management (admin only)
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	authHandler := handlers.NewAuthHandler(cfg.Store, cfg.JWT)
	archiveHandler := handlers.NewArchiveHandler(cfg.Store, cfg.Vault, cfg.Engine, cfg.TempDir)
	folderHandler := handlers.NewFolderHandler(cfg.Store)
	shareHandler := handlers.NewShareHandler(cfg.Store, cfg.Engine)
	webhookHandler := handlers.NewWebhookHandler(cfg.Store)
	userHandler := handlers.NewUserHandler(cfg.Store)

	// Public share downloads - unauthenticated by design.
	r.Get("/s/{token}", shareHandler.Resolve)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)

		// Authenticated routes.
		r.Group(func(r chi.Router) {
			r.Use(apiMiddleware.JWTAuth(cfg.JWT))

			r.Get("/auth/me", authHandler.Me)
			r.Post("/auth/password", authHandler.ChangeOwnPassword)

			r.Route("/archives", func(r chi.Router) {
				r.Post("/", archiveHandler.Upload)
				r.Post("/stream", archiveHandler.UploadStream)
				r.Get("/", archiveHandler.List)
				r.Get("/{id}", archiveHandler.Get)
				r.Get("/{id}/download", archiveHandler.Download)
				r.Get("/{id}/files/{idx}", archiveHandler.DownloadEntry)
				r.Post("/{id}/trash", archiveHandler.Trash)
				r.Post("/{id}/restore", archiveHandler.Restore)
				r.Delete("/{id}", archiveHandler.Purge)
				r.Post("/{id}/move", archiveHandler.Move)
				r.Post("/{id}/rename", archiveHandler.Rename)
				r.Post("/{id}/files/{idx}/rename", archiveHandler.RenameFile)
				r.Post("/{id}/priority", archiveHandler.SetPriority)
			})

			r.Get("/trash", archiveHandler.ListTrash)

			r.Route("/folders", func(r chi.Router) {
				r.Post("/", folderHandler.Create)
				r.Get("/", folderHandler.List)
				r.Get("/{id}", folderHandler.Get)
				r.Post("/{id}/rename", folderHandler.Rename)
				r.Post("/{id}/priority", folderHandler.SetPriority)
				r.Delete("/{id}", folderHandler.Delete)
			})

			r.Route("/shares", func(r chi.Router) {
				r.Post("/", shareHandler.Create)
				r.Get("/", shareHandler.List)
				r.Delete("/{id}", shareHandler.Delete)
			})

			// Admin-only management.
			r.Group(func(r chi.Router) {
				r.Use(apiMiddleware.RequireAdmin())

				r.Route("/users", func(r chi.Router) {
					r.Post("/", userHandler.Create)
					r.Get("/", userHandler.List)
					r.Get("/{username}", userHandler.Get)
					r.Patch("/{username}", userHandler.Update)
					r.Delete("/{username}", userHandler.Delete)
				})

				r.Route("/webhooks", func(r chi.Router) {
					r.Post("/", webhookHandler.Create)
					r.Get("/", webhookHandler.List)
					r.Post("/{id}/enabled", webhookHandler.SetEnabled)
					r.Delete("/{id}", webhookHandler.Delete)
				})
			})
		})
	})

	return r
}

// requestLogger logs API requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		// Probe traffic stays at DEBUG to keep logs readable.
		if isProbePath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}

func isProbePath(path string) bool {
	return path == "/healthz" || strings.HasPrefix(path, "/metrics")
}
