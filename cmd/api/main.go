package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/reindexq/internal/chunk"
	"github.com/you/reindexq/internal/config"
	"github.com/you/reindexq/internal/dispatch"
	"github.com/you/reindexq/internal/postpone"
	"github.com/you/reindexq/internal/registrar"
)

var validate = validator.New()

type postponeRequest struct {
	Type         string   `json:"type" validate:"required"`
	IDs          []string `json:"ids" validate:"required,min=1"`
	UpdateFields []string `json:"update_fields"`
}

func main() {
	cfg := config.Load()
	log, err := newLogger(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	var overrides map[string]config.Override
	if cfg.OverridesPath != "" {
		if overrides, err = config.LoadOverrides(cfg.OverridesPath); err != nil {
			log.Fatal("load overrides", zap.Error(err))
		}
	}
	resolver, err := config.NewResolver(cfg.Defaults(), overrides)
	if err != nil {
		log.Fatal("resolve tunables", zap.Error(err))
	}

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	p := postpone.New(
		resolver,
		chunk.New(cfg.KeyPrefix, nil),
		registrar.New(rdb),
		dispatch.New(rdb, nil),
		log,
	)

	rtr := chi.NewRouter()
	rtr.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	rtr.Post("/v1/postpone", handlePostpone(p, log))

	log.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := http.ListenAndServe(cfg.APIAddr, rtr); err != nil {
		log.Fatal("serve", zap.Error(err))
	}
}

func handlePostpone(p *postpone.Postponer, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body postponeRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err := p.Postpone(req.Context(), postpone.Request{
			Type:         body.Type,
			IDs:          body.IDs,
			UpdateFields: body.UpdateFields,
		})
		if err != nil {
			log.Error("postpone failed", zap.String("type", body.Type), zap.Error(err))
			http.Error(w, "postpone failed", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func newLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
