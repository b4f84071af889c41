package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/coralchat/docsync/internal/api/handlers"
	"github.com/coralchat/docsync/internal/api/middleware"
	"github.com/coralchat/docsync/internal/auditor"
	"github.com/coralchat/docsync/internal/auth"
	"github.com/coralchat/docsync/internal/config"
	"github.com/coralchat/docsync/internal/ingest"
	"github.com/coralchat/docsync/internal/journal"
	"github.com/coralchat/docsync/internal/models"
	"github.com/coralchat/docsync/internal/push"
	"github.com/coralchat/docsync/internal/queue"
	"github.com/coralchat/docsync/internal/stall"
	"github.com/coralchat/docsync/internal/storage"
	"github.com/coralchat/docsync/internal/store"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
	jwt   *auth.JWTMiddleware

	manager  *push.Manager
	detector *stall.Detector
	ctrl     *auditor.Controller
	hub      *handlers.EventHub
	qc       *queue.Client
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
		jwt:   auth.NewJWTMiddleware(cfg.Auth.JWTSecret),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	st := store.New()
	var jr *journal.Journal
	if rt.db != nil {
		jr = journal.New(rt.db)
		jr.Attach(st)
	}

	transport := push.NewRedisTransport(rt.redis)
	rt.manager = push.NewManager(st, transport, push.Config{
		ReconnectInitial: rt.cfg.Push.ReconnectInitial,
		ReconnectMax:     rt.cfg.Push.ReconnectMax,
		MaxReconnects:    rt.cfg.Push.MaxReconnects,
	})
	rt.detector = stall.New(st, stall.Config{
		UploadThreshold:     rt.cfg.Stall.UploadThreshold,
		ProcessingThreshold: rt.cfg.Stall.ProcessingThreshold,
	})

	rt.qc = queue.NewClient(rt.cfg.Redis)
	backend := queue.NewBackend(rt.qc, rt.redis)
	rt.ctrl = auditor.New(st, rt.manager, backend, auditor.Config{
		CancelAckWait: rt.cfg.Audit.CancelAckWait,
	})

	staging := rt.newStorage()
	ingestSvc := ingest.NewService(st, staging, rt.cfg.Storage.Bucket, rt.qc, rt.manager)

	var onSession func(models.AuditSession)
	if jr != nil {
		onSession = func(s models.AuditSession) {
			if s.Status.TerminalStatus() {
				jr.RecordAuditOutcome(context.Background(), s)
			}
		}
	}
	rt.hub = handlers.NewEventHub(st, rt.detector, rt.ctrl, onSession)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		docH := handlers.NewDocumentHandler(ingestSvc, st)
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Upload)
			r.Get("/", docH.List)
			r.Get("/{id}", docH.Get)
			r.Delete("/{id}", docH.Delete)
		})

		auditH := handlers.NewAuditHandler(rt.ctrl)
		r.Route("/audit", func(r chi.Router) {
			r.Post("/start", auditH.Start)
			r.Post("/cancel", auditH.Cancel)
			r.Get("/current", auditH.Current)
		})

		r.Get("/events", rt.hub.Stream)
	})

	return r
}

// Shutdown tears down the background components Setup started.
func (rt *Router) Shutdown() {
	if rt.hub != nil {
		rt.hub.Close()
	}
	if rt.ctrl != nil {
		rt.ctrl.Stop()
	}
	if rt.detector != nil {
		rt.detector.Stop()
	}
	if rt.manager != nil {
		rt.manager.Shutdown()
	}
	if rt.qc != nil {
		rt.qc.Close()
	}
}

func (rt *Router) newStorage() storage.Storage {
	if rt.cfg.Storage.SupabaseURL != "" {
		return storage.NewSupabaseStorage(rt.cfg.Storage.SupabaseURL, rt.cfg.Storage.SupabaseKey)
	}
	return storage.NewLocalStorage(rt.cfg.Storage.LocalDir)
}
