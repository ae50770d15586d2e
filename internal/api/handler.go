package api

import (
	"log/slog"
	"net/http"

	"github.com/shaiso/Cascade/internal/catalog"
	"github.com/shaiso/Cascade/internal/orchestrator"
	"github.com/shaiso/Cascade/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orch    *orchestrator.Orchestrator
	catalog *catalog.Catalog
	runRepo *repo.RunRepo // опционально: архив завершённых runs
	metrics http.Handler  // опционально: /metrics endpoint
	logger  *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Catalog      *catalog.Catalog
	RunRepo      *repo.RunRepo // nil — архив отключён
	Metrics      http.Handler  // nil — /metrics отключён
	Logger       *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orch:    cfg.Orchestrator,
		catalog: cfg.Catalog,
		runRepo: cfg.RunRepo,
		metrics: cfg.Metrics,
		logger:  logger,
	}
}
