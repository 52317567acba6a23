package httpapi

import (
	"errors"

	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/logger"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/response"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// writeError maps an engine error to a status and a message that does not
// leak which check failed.
func writeError(c *fiber.Ctx, err error) error {
	var rl *authcore.RateLimitError
	if errors.As(err, &rl) {
		return response.TooManyRequests(c, rl.RetryAfterSeconds())
	}

	// Every screening stage answers 400; only the audit trail tells them apart.
	var spam *authcore.SpamError
	if errors.As(err, &spam) {
		return response.Error(c, fiber.StatusBadRequest, spam.UserMessage)
	}

	switch {
	case errors.Is(err, authcore.ErrInvalidCredentials):
		return response.Error(c, fiber.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, authcore.ErrInvalidTwoFactorCode):
		return response.Error(c, fiber.StatusUnauthorized, "invalid two-factor code")
	case errors.Is(err, authcore.ErrInvalidOrExpiredToken), errors.Is(err, authcore.ErrUnauthorized):
		return response.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, authcore.ErrAccountNotFound):
		return response.Error(c, fiber.StatusUnauthorized, "unauthorized")
	case errors.Is(err, authcore.ErrForbidden):
		return response.Error(c, fiber.StatusForbidden, "forbidden")
	case errors.Is(err, authcore.ErrTwoFactorAlreadyEnabled):
		return response.Error(c, fiber.StatusConflict, "two-factor authentication is already enabled")
	case errors.Is(err, authcore.ErrTwoFactorNotPending):
		return response.Error(c, fiber.StatusBadRequest, "two-factor setup has not been started")
	case errors.Is(err, authcore.ErrTwoFactorNotEnabled):
		return response.Error(c, fiber.StatusBadRequest, "two-factor authentication is not enabled")
	case errors.Is(err, authcore.ErrPasswordPolicy):
		return response.Error(c, fiber.StatusBadRequest, "password does not meet the policy")
	case errors.Is(err, authcore.ErrPasswordReuse):
		return response.Error(c, fiber.StatusBadRequest, "new password must be different from current password")
	case errors.Is(err, authcore.ErrInvalidRequest):
		return response.Error(c, fiber.StatusBadRequest, "invalid request")
	case errors.Is(err, authcore.ErrAccountExists):
		return response.Error(c, fiber.StatusConflict, "account already exists")
	case errors.Is(err, authcore.ErrBackendUnavailable), errors.Is(err, authcore.ErrEngineNotReady):
		return response.Error(c, fiber.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		logger.Error("unhandled_engine_error", err, map[string]interface{}{
			"path": utils.CopyString(c.Path()),
		})
		return response.Error(c, fiber.StatusInternalServerError, "internal server error")
	}
}

// codeError is writeError for endpoints where a wrong code is a client
// mistake on an authenticated session rather than a failed login.
func codeError(c *fiber.Ctx, err error) error {
	if errors.Is(err, authcore.ErrInvalidTwoFactorCode) {
		return response.Error(c, fiber.StatusBadRequest, "invalid two-factor code")
	}
	return writeError(c, err)
}
