// Package routers
package routers

import (
	"inference-gateway/internal/auth"
	"inference-gateway/internal/handlers/invoke"
	"inference-gateway/internal/ratelimit"
	"inference-gateway/internal/telemetry"
	"inference-gateway/internal/tokenstore"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Config holds the collaborator handles constructed by the process entry
// point. The gateway owns none of their lifecycles.
type Config struct {
	Store   tokenstore.Store
	Backend invoke.Backend
	Sink    telemetry.Sink
	Limiter ratelimit.Limiter
}

type InvokeRouter struct {
	manager *invoke.Manager
}

func RegisterInvokeRoutes(e *echo.Group, cfg Config, log *zap.SugaredLogger) error {
	validator := auth.NewValidator(cfg.Store, log)
	emitter := telemetry.NewEmitter(cfg.Sink, log)
	manager := invoke.NewManager(validator, cfg.Backend, emitter, cfg.Limiter, log)

	router := InvokeRouter{manager: manager}

	v1 := e.Group("v1")
	v1.POST("/invoke", router.InvokeRequest)
	return nil
}

func (ir *InvokeRouter) InvokeRequest(cc echo.Context) error {
	return ir.manager.Invoke(cc)
}
