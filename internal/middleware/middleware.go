// Package middleware defines the request tracking, recovery, and CORS layers
package middleware

import (
	"fmt"
	"time"

	"inference-gateway/internal/metrics"
	"inference-gateway/internal/setup"
	"inference-gateway/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID, _ := nanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 28)
			logger := log.With(
				"request_id", "req_"+reqID,
			)

			cc := &setup.Context{Context: c, Log: logger, Reqid: reqID}
			start := time.Now()
			err := next(cc)
			duration := time.Since(start)
			cc.Log.Infow("end_of_request", "status_code", fmt.Sprintf("%d", cc.Response().Status), "duration", duration.String())
			metrics.ResponseCodes.WithLabelValues(cc.Path(), fmt.Sprintf("%d", cc.Response().Status)).Inc()
			return err
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error())
			return c.JSON(500, map[string]string{"error": shared.ErrInternalServerError.Error()})
		},
	})
}

// NewCORSMiddleware attaches the gateway's fixed CORS headers to every
// outcome, success or failure, so browser callers can inspect errors too.
// OPTIONS preflights are acknowledged before authentication and produce no
// telemetry.
func NewCORSMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
			h.Set("Access-Control-Allow-Methods", "OPTIONS,POST")

			if c.Request().Method == "OPTIONS" {
				return c.JSON(200, map[string]string{"message": "CORS preflight response"})
			}
			return next(c)
		}
	}
}
