package httpapi

import (
	"errors"
	"time"

	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/middleware"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/logger"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/response"
	"github.com/gofiber/fiber/v2"
)

func principalJSON(p authcore.Principal) fiber.Map {
	return fiber.Map{
		"id":    p.ID,
		"email": p.Email,
		"role":  string(p.Role),
	}
}

// issue sets the refresh cookie and returns the access token body.
func (h *Handler) issue(c *fiber.Ctx, tokens *authcore.TokenPair, p authcore.Principal) error {
	h.setRefreshCookie(c, tokens.RefreshToken, tokens.RefreshExpiresAt)
	return response.Success(c, fiber.StatusOK, fiber.Map{
		"accessToken": tokens.AccessToken,
		"expiresIn":   int(time.Until(tokens.AccessExpiresAt).Seconds()),
		"admin":       principalJSON(p),
	})
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	res, err := h.engine.Login(middleware.Context(c), req.Email, req.Password)
	if err != nil {
		return writeError(c, err)
	}
	if res.RequiresTwoFactor {
		return response.Success(c, fiber.StatusOK, fiber.Map{
			"requiresTwoFactor": true,
			"admin":             fiber.Map{"id": res.AccountID},
		})
	}
	return h.issue(c, res.Tokens, res.Principal)
}

func (h *Handler) VerifyLoginTwoFactor(c *fiber.Ctx) error {
	var req verifyLoginRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	res, err := h.engine.CompleteLogin(middleware.Context(c), req.AdminID, req.Code, req.UseBackupCode)
	if err != nil {
		return writeError(c, err)
	}
	return h.issue(c, res.Tokens, res.Principal)
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	token := c.Cookies(h.cookie.Name)
	if token == "" {
		return response.Error(c, fiber.StatusUnauthorized, "invalid or expired token")
	}

	tokens, err := h.engine.Refresh(middleware.Context(c), token)
	if err != nil {
		if errors.Is(err, authcore.ErrInvalidOrExpiredToken) {
			h.clearRefreshCookie(c)
		}
		return writeError(c, err)
	}

	h.setRefreshCookie(c, tokens.RefreshToken, tokens.RefreshExpiresAt)
	return response.Success(c, fiber.StatusOK, fiber.Map{
		"accessToken": tokens.AccessToken,
		"expiresIn":   int(time.Until(tokens.AccessExpiresAt).Seconds()),
	})
}

// Logout always clears the cookie. An unknown or already revoked token is
// not an error for the caller.
func (h *Handler) Logout(c *fiber.Ctx) error {
	token := c.Cookies(h.cookie.Name)
	h.clearRefreshCookie(c)
	if token == "" {
		return response.Success(c, fiber.StatusOK, fiber.Map{"message": "logged out"})
	}

	err := h.engine.Logout(middleware.Context(c), token)
	if err != nil && !errors.Is(err, authcore.ErrInvalidOrExpiredToken) {
		return writeError(c, err)
	}
	return response.Success(c, fiber.StatusOK, fiber.Map{"message": "logged out"})
}

func (h *Handler) LogoutAll(c *fiber.Ctx) error {
	p, _ := middleware.PrincipalFrom(c)
	n, err := h.engine.RevokeAll(middleware.Context(c), p.ID)
	if err != nil {
		return writeError(c, err)
	}
	h.clearRefreshCookie(c)
	return response.Success(c, fiber.StatusOK, fiber.Map{"revoked": n})
}

func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	p, _ := middleware.PrincipalFrom(c)
	var req changePasswordRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	n, err := h.engine.ChangePassword(middleware.Context(c), p.ID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, authcore.ErrInvalidCredentials) {
			return response.Error(c, fiber.StatusBadRequest, "current password is incorrect")
		}
		return writeError(c, err)
	}

	logger.Info("password_changed", map[string]interface{}{
		"account_id": p.ID,
		"revoked":    n,
	})
	h.clearRefreshCookie(c)
	return response.Success(c, fiber.StatusOK, fiber.Map{
		"message": "password changed, please log in again",
		"revoked": n,
	})
}

func (h *Handler) Me(c *fiber.Ctx) error {
	p, _ := middleware.PrincipalFrom(c)
	profile, err := h.engine.Profile(middleware.Context(c), p.ID)
	if err != nil {
		return writeError(c, err)
	}

	caps := h.engine.Capabilities(profile.Role)
	names := make([]string, 0, len(caps))
	for _, cp := range caps {
		names = append(names, string(cp))
	}
	body := principalJSON(*profile)
	body["capabilities"] = names
	return response.Success(c, fiber.StatusOK, body)
}
