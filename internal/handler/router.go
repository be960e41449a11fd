package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/contentforge/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	HealthChecker     HealthChecker
	MetricsHandler    http.Handler

	Submitter ContentSubmitter
	Reader    ContentReader
	Statuses  StatusReader
	Approval  ApprovalService
	Publisher PublishTrigger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	contentHandler := NewContentHandler(deps.Submitter, deps.Reader, deps.Statuses, logger)
	approvalHandler := NewApprovalHandler(deps.Approval, logger)
	publishHandler := NewPublishHandler(deps.Publisher, logger)

	r.Get("/health", NewHealthHandler(deps.HealthChecker, logger))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		create := http.HandlerFunc(contentHandler.CreateContent)
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.With(deps.RateLimiter.CreationMiddleware()).Post("/create-content", create)
		} else {
			r.Post("/create-content", create)
		}

		r.Get("/content", contentHandler.GetContent)
		r.Route("/content/{id}", func(r chi.Router) {
			r.Get("/", contentHandler.GetContent)
			r.Get("/status", contentHandler.GetStatus)
		})

		r.Post("/send-approval-email", approvalHandler.SendApprovalEmail)
		r.Get("/api/approve", approvalHandler.Approve)
		r.Post("/publish", publishHandler.Publish)
	})

	return r
}
