package httpapi

import (
	"errors"
	"strings"

	"github.com/eis-1/electrical-supplier-website-sub001/pkg/response"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=256"`
}

type verifyLoginRequest struct {
	AdminID       string `json:"adminId" validate:"required,max=64"`
	Code          string `json:"code" validate:"required,max=32"`
	UseBackupCode bool   `json:"useBackupCode"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required,max=256"`
	NewPassword     string `json:"newPassword" validate:"required,min=10,max=256"`
}

type codeRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type disableTwoFactorRequest struct {
	Code          string `json:"code" validate:"required,max=32"`
	UseBackupCode bool   `json:"useBackupCode"`
}

type verifyTwoFactorRequest struct {
	Email         string `json:"email" validate:"required,email,max=255"`
	Code          string `json:"code" validate:"required,max=32"`
	UseBackupCode bool   `json:"useBackupCode"`
}

// quoteRequest.Website is the honeypot: the field is hidden in the form and
// humans leave it empty. RenderedAt is unix milliseconds.
type quoteRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	Email      string `json:"email" validate:"required,email,max=255"`
	Phone      string `json:"phone" validate:"max=40"`
	Company    string `json:"company" validate:"max=200"`
	Message    string `json:"message" validate:"required,max=5000"`
	Website    string `json:"website"`
	RenderedAt int64  `json:"renderedAt"`
}

// bind parses and validates the body into req, writing a 400 on failure.
// It reports whether the handler should continue.
func (h *Handler) bind(c *fiber.Ctx, req interface{}) (bool, error) {
	if err := c.BodyParser(req); err != nil {
		return false, response.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return false, response.Error(c, fiber.StatusBadRequest, validationMessage(err))
	}
	return true, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	default:
		return field + " is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
