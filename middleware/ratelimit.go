package middleware

import (
	"errors"

	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/logger"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/response"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// GlobalRateLimit charges each request to the global scope keyed by client
// IP. When the counter store is down the request is refused with 503.
func GlobalRateLimit(engine *authcore.Engine) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := engine.AllowRequest(Context(c))
		if err == nil {
			return c.Next()
		}

		var rl *authcore.RateLimitError
		if errors.As(err, &rl) {
			return response.TooManyRequests(c, rl.RetryAfterSeconds())
		}
		logger.Error("global_rate_limit_unavailable", err, map[string]interface{}{
			"ip":   utils.CopyString(c.IP()),
			"path": utils.CopyString(c.Path()),
		})
		return response.Error(c, fiber.StatusServiceUnavailable, "service temporarily unavailable")
	}
}
