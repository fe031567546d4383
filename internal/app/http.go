package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	httpserver "github.com/yungbote/docretrieval-backend/internal/http"
	httpH "github.com/yungbote/docretrieval-backend/internal/http/handlers"
	"github.com/yungbote/docretrieval-backend/internal/observability"
	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

type Handlers struct {
	Health    *httpH.HealthHandler
	Documents *httpH.DocumentHandler
	Jobs      *httpH.JobHandler
}

func wireHandlers(log *logger.Logger, cfg Config, db *gorm.DB, clients Clients, serviceset Services, metrics *observability.Metrics) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:    httpH.NewHealthHandler(readinessChecks(db, clients)...),
		Documents: httpH.NewDocumentHandler(log, serviceset.Documents, metrics, cfg.MaxUploadBytes),
		Jobs:      httpH.NewJobHandler(log, serviceset.Jobs, clients.Bus),
	}
}

func readinessChecks(db *gorm.DB, clients Clients) []httpH.DependencyCheck {
	var checks []httpH.DependencyCheck
	if db != nil {
		checks = append(checks, httpH.DependencyCheck{Name: "postgres", Ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return fmt.Errorf("sql handle: %w", err)
			}
			return sqlDB.PingContext(ctx)
		}})
	}
	if rdb := clients.Redis; rdb != nil {
		checks = append(checks, httpH.DependencyCheck{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return checks
}

func wireServer(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *httpserver.Server {
	log.Info("Wiring router...")
	return httpserver.NewServer(httpserver.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		ServiceName:     cfg.ServiceName,
		CORSOrigins:     cfg.CORSOrigins,
		HealthHandler:   handlers.Health,
		DocumentHandler: handlers.Documents,
		JobHandler:      handlers.Jobs,
	})
}
