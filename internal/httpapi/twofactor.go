package httpapi

import (
	"encoding/base64"
	"errors"

	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/middleware"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/response"
	"github.com/gofiber/fiber/v2"
)

func (h *Handler) TwoFactorSetup(c *fiber.Ctx) error {
	p, _ := middleware.PrincipalFrom(c)
	setup, err := h.engine.SetupTwoFactor(middleware.Context(c), p.ID)
	if err != nil {
		return writeError(c, err)
	}
	return response.Success(c, fiber.StatusOK, fiber.Map{
		"secret":     setup.Secret,
		"otpauthUrl": setup.OTPAuthURL,
		"qrCode":     "data:image/png;base64," + base64.StdEncoding.EncodeToString(setup.QRCodePNG),
	})
}

func (h *Handler) TwoFactorEnable(c *fiber.Ctx) error {
	p, _ := middleware.PrincipalFrom(c)
	var req codeRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	codes, err := h.engine.EnableTwoFactor(middleware.Context(c), p.ID, req.Code)
	if err != nil {
		return codeError(c, err)
	}
	return response.Success(c, fiber.StatusOK, fiber.Map{"backupCodes": codes})
}

func (h *Handler) TwoFactorDisable(c *fiber.Ctx) error {
	p, _ := middleware.PrincipalFrom(c)
	var req disableTwoFactorRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	if err := h.engine.DisableTwoFactor(middleware.Context(c), p.ID, req.Code, req.UseBackupCode); err != nil {
		return codeError(c, err)
	}
	return response.Success(c, fiber.StatusOK, fiber.Map{"message": "two-factor authentication disabled"})
}

// TwoFactorVerify checks a code without logging in. A wrong code answers
// 400 with verified=false.
func (h *Handler) TwoFactorVerify(c *fiber.Ctx) error {
	var req verifyTwoFactorRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	ok, err := h.engine.VerifySecondFactor(middleware.Context(c), req.Email, req.Code, req.UseBackupCode)
	if err != nil && !errors.Is(err, authcore.ErrInvalidTwoFactorCode) {
		return writeError(c, err)
	}
	if !ok {
		return response.ErrorWith(c, fiber.StatusBadRequest, "invalid two-factor code", fiber.Map{"verified": false})
	}
	return response.Success(c, fiber.StatusOK, fiber.Map{"verified": true})
}

func (h *Handler) TwoFactorStatus(c *fiber.Ctx) error {
	p, _ := middleware.PrincipalFrom(c)
	status, err := h.engine.TwoFactorStatus(middleware.Context(c), p.ID)
	if err != nil {
		return writeError(c, err)
	}
	return response.Success(c, fiber.StatusOK, fiber.Map{
		"enabled":              status.Enabled,
		"pending":              status.Pending,
		"backupCodesRemaining": status.BackupCodesRemaining,
	})
}

func (h *Handler) RegenerateBackupCodes(c *fiber.Ctx) error {
	p, _ := middleware.PrincipalFrom(c)
	var req codeRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	codes, err := h.engine.RegenerateBackupCodes(middleware.Context(c), p.ID, req.Code)
	if err != nil {
		return codeError(c, err)
	}
	return response.Success(c, fiber.StatusOK, fiber.Map{"backupCodes": codes})
}
