package middleware

import (
	"time"

	"github.com/eis-1/electrical-supplier-website-sub001/pkg/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
)

// RequestLogger logs method, path, status, latency, client IP and request id
// once the rest of the chain has run.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		// fiber strings alias the request buffer, which is reused once the
		// handler returns; a core may hold fields longer than that.
		fields := []zap.Field{
			zap.String("method", utils.CopyString(c.Method())),
			zap.String("path", utils.CopyString(c.Path())),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", utils.CopyString(c.IP())),
		}
		if rid, ok := c.Locals(requestIDKey).(string); ok {
			fields = append(fields, zap.String("request_id", utils.CopyString(rid)))
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			logger.L().Error("http_request", fields...)
		case status >= fiber.StatusBadRequest:
			logger.L().Warn("http_request", fields...)
		default:
			logger.L().Info("http_request", fields...)
		}
		return err
	}
}
