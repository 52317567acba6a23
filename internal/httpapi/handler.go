package httpapi

import (
	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/middleware"
	"github.com/eis-1/electrical-supplier-website-sub001/permission"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// CookieConfig controls the refresh token cookie.
type CookieConfig struct {
	Name   string
	Path   string
	Domain string
	Secure bool
}

func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:   "refreshToken",
		Path:   "/api/auth",
		Secure: true,
	}
}

type Handler struct {
	engine   *authcore.Engine
	validate *validator.Validate
	cookie   CookieConfig
}

func New(engine *authcore.Engine, cookie CookieConfig) *Handler {
	if cookie.Name == "" {
		cookie.Name = DefaultCookieConfig().Name
	}
	if cookie.Path == "" {
		cookie.Path = DefaultCookieConfig().Path
	}
	return &Handler{
		engine:   engine,
		validate: validator.New(),
		cookie:   cookie,
	}
}

// Register mounts every route on r. The global rate limit is expected to be
// installed by the caller so it also covers routes outside this package.
func (h *Handler) Register(r fiber.Router) {
	requireAuth := middleware.RequireAuth(h.engine)

	auth := r.Group("/auth")
	auth.Post("/login", h.Login)
	auth.Post("/verify-2fa", h.VerifyLoginTwoFactor)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", h.Logout)
	auth.Post("/logout-all", requireAuth, h.LogoutAll)
	auth.Post("/change-password", requireAuth, h.ChangePassword)
	auth.Get("/me", requireAuth, h.Me)

	tf := auth.Group("/2fa")
	tf.Post("/verify", h.TwoFactorVerify)
	tf.Post("/setup", requireAuth, h.TwoFactorSetup)
	tf.Post("/enable", requireAuth, h.TwoFactorEnable)
	tf.Post("/disable", requireAuth, h.TwoFactorDisable)
	tf.Get("/status", requireAuth, h.TwoFactorStatus)
	tf.Post("/backup-codes", requireAuth, h.RegenerateBackupCodes)

	r.Post("/quotes", h.SubmitQuote)
	r.Get("/quotes", requireAuth, middleware.RequireCapability(h.engine, permission.CapQuotesRead), h.ListQuotes)
}
