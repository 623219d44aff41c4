package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/udpgps/internal/metrics"
	"nuha.dev/udpgps/internal/udpgps/control"
	"nuha.dev/udpgps/internal/web/monitoring"
	"nuha.dev/udpgps/internal/web/service"
)

type ApiConfig struct {
	ListenAddr string
	Metrics    *metrics.Metrics
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    zerolog.Logger
}

func NewApi(ctl *control.Controller, sender service.Sender, config *ApiConfig) *Api {
	api := &Api{config: config}
	api.log = log.With().Str("module", "api").Logger()
	m := config.Metrics
	if m == nil {
		m = metrics.Default
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(request_logger(api.log))
	r.Use(middleware.Recoverer)
	svc := service.NewServiceRegistry(ctl, sender)
	svc.RegisterService()
	r.Post("/func/{name}", func(w http.ResponseWriter, r *http.Request) {
		svc.Call(chi.URLParam(r, "name"), w, r)
	})
	mon := monitoring.NewMonApi(ctl, m)
	r.Get("/status", mon.GetHandler().ServeHTTP)
	r.Handle("/metrics", m.Handler())

	api.r = r
	api.s = &http.Server{
		Addr:           api.config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Handler() http.Handler {
	return api.r
}

// Run serves until ctx is cancelled.
func (api *Api) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		api.s.Shutdown(shutdownCtx)
	})
	defer stop()
	api.log.Info().Str("addr", api.config.ListenAddr).Msg("api listening")
	err := api.s.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func request_logger(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t0 := time.Now()
			defer func() {
				l.Debug().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("elapsed", time.Since(t0)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
