package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nuha.dev/loctrack/internal/tracking"
	"nuha.dev/loctrack/internal/web/service"
)

type ApiConfig struct {
	ListenAddr string
}

type Api struct {
	r      chi.Router
	s      *http.Server
	config *ApiConfig
	log    zerolog.Logger
}

func NewApi(mgr *tracking.Manager, config *ApiConfig) *Api {
	api := &Api{config: config}
	api.log = log.With().Str("module", "api").Logger()
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	svc := service.NewServiceRegistry(mgr)
	svc.RegisterService()
	r.Post("/func/{name}", func(w http.ResponseWriter, r *http.Request) {
		svc.Call(chi.URLParam(r, "name"), w, r)
	})
	api.r = r
	api.s = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return api
}

func (api *Api) Run() {
	api.log.Info().Str("addr", api.config.ListenAddr).Msg("starting api server")
	err := api.s.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		api.log.Error().Err(err).Msg("api server stopped")
	}
}
