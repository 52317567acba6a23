package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/middleware"
	"github.com/eis-1/electrical-supplier-website-sub001/permission"
	"github.com/eis-1/electrical-supplier-website-sub001/store"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-battery"

type envelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Verified   *bool           `json:"verified"`
	RetryAfter int             `json:"retryAfter"`
	Pagination struct {
		Page  int   `json:"page"`
		Total int64 `json:"total"`
	} `json:"pagination"`
}

type apiEnv struct {
	app    *fiber.App
	engine *authcore.Engine
	mr     *miniredis.Miniredis
}

func newAPIEnv(t *testing.T, mutate func(*authcore.Config)) *apiEnv {
	t.Helper()
	return newAPIEnvWithRoles(t, mutate, nil)
}

func newAPIEnvWithRoles(t *testing.T, mutate func(*authcore.Config), roles *permission.RoleManager) *apiEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, err := store.Open(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(strings.Repeat("k", 32))
	cfg.Vault.MasterKey = []byte(strings.Repeat("v", 32))
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	if mutate != nil {
		mutate(&cfg)
	}

	b := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(store.NewAccounts(db)).
		WithQuoteStore(store.NewQuotes(db))
	if roles != nil {
		b = b.WithRoleManager(roles)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	app := fiber.New()
	api := app.Group("/api", middleware.GlobalRateLimit(engine))
	New(engine, CookieConfig{Name: "refreshToken", Path: "/api/auth"}).Register(api)

	t.Cleanup(func() {
		engine.Close()
		_ = store.Close(db)
		_ = rdb.Close()
		mr.Close()
	})
	return &apiEnv{app: app, engine: engine, mr: mr}
}

func (a *apiEnv) createAccount(t *testing.T, email string, role permission.Role) {
	t.Helper()
	if _, err := a.engine.CreateAccount(context.Background(), email, testPassword, role); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
}

func (a *apiEnv) do(t *testing.T, method, path string, body interface{}, header map[string]string) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := a.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("%s %s: body is not JSON: %q", method, path, raw)
	}
	return resp, env
}

func refreshCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == "refreshToken" {
			return c
		}
	}
	return nil
}

type loginData struct {
	AccessToken       string `json:"accessToken"`
	ExpiresIn         int    `json:"expiresIn"`
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
	Admin             struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"admin"`
}

func (a *apiEnv) login(t *testing.T, email string) (loginData, *http.Cookie) {
	t.Helper()
	resp, env := a.do(t, http.MethodPost, "/api/auth/login", fiber.Map{"email": email, "password": testPassword}, nil)
	if resp.StatusCode != fiber.StatusOK || !env.Success {
		t.Fatalf("login: status %d, error %q", resp.StatusCode, env.Error)
	}
	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("login data: %v", err)
	}
	return data, refreshCookie(resp)
}

func bearer(token string) map[string]string {
	return map[string]string{fiber.HeaderAuthorization: "Bearer " + token}
}

func TestLoginSetsHttpOnlyRefreshCookie(t *testing.T) {
	a := newAPIEnv(t, nil)
	a.createAccount(t, "admin@example.com", permission.RoleAdmin)

	data, cookie := a.login(t, "admin@example.com")
	if data.AccessToken == "" || data.ExpiresIn <= 0 {
		t.Fatalf("missing access token: %+v", data)
	}
	if data.Admin.Email != "admin@example.com" || data.Admin.Role != string(permission.RoleAdmin) {
		t.Fatalf("unexpected admin: %+v", data.Admin)
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatal("expected refresh cookie")
	}
	if !cookie.HttpOnly || cookie.Path != "/api/auth" {
		t.Fatalf("cookie flags wrong: %+v", cookie)
	}
	if strings.Contains(data.AccessToken, cookie.Value) {
		t.Fatal("refresh token must not appear in the body")
	}
}

func TestLoginRejectsWithoutLeakingCause(t *testing.T) {
	a := newAPIEnv(t, nil)
	a.createAccount(t, "admin@example.com", permission.RoleAdmin)

	_, wrong := a.do(t, http.MethodPost, "/api/auth/login", fiber.Map{"email": "admin@example.com", "password": "nope-nope-nope"}, nil)
	resp, unknown := a.do(t, http.MethodPost, "/api/auth/login", fiber.Map{"email": "ghost@example.com", "password": "nope-nope-nope"}, nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if wrong.Success || wrong.Error != unknown.Error || wrong.Error != "invalid credentials" {
		t.Fatalf("errors differ: %q vs %q", wrong.Error, unknown.Error)
	}
}

func TestLoginValidation(t *testing.T) {
	a := newAPIEnv(t, nil)

	resp, env := a.do(t, http.MethodPost, "/api/auth/login", fiber.Map{"email": "not-an-email", "password": "x"}, nil)
	if resp.StatusCode != fiber.StatusBadRequest || env.Error != "email must be a valid email address" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, env.Error)
	}

	resp, env = a.do(t, http.MethodPost, "/api/auth/login", fiber.Map{"email": "a@example.com"}, nil)
	if resp.StatusCode != fiber.StatusBadRequest || env.Error != "password is required" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, env.Error)
	}
}

func TestLoginRateLimitedReturnsRetryAfter(t *testing.T) {
	a := newAPIEnv(t, nil)
	a.createAccount(t, "admin@example.com", permission.RoleAdmin)

	body := fiber.Map{"email": "admin@example.com", "password": "nope-nope-nope"}
	for i := 0; i < 5; i++ {
		resp, _ := a.do(t, http.MethodPost, "/api/auth/login", body, nil)
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}
	resp, env := a.do(t, http.MethodPost, "/api/auth/login", body, nil)
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get(fiber.HeaderRetryAfter) == "" || env.RetryAfter <= 0 {
		t.Fatalf("missing retry hint: header %q body %d", resp.Header.Get(fiber.HeaderRetryAfter), env.RetryAfter)
	}
}

func TestRefreshRotatesCookieAndRejectsReuse(t *testing.T) {
	a := newAPIEnv(t, nil)
	a.createAccount(t, "admin@example.com", permission.RoleAdmin)
	_, first := a.login(t, "admin@example.com")

	cookieHeader := func(c *http.Cookie) map[string]string {
		return map[string]string{fiber.HeaderCookie: c.Name + "=" + c.Value}
	}

	resp, env := a.do(t, http.MethodPost, "/api/auth/refresh", nil, cookieHeader(first))
	if resp.StatusCode != fiber.StatusOK || !env.Success {
		t.Fatalf("refresh: %d %q", resp.StatusCode, env.Error)
	}
	second := refreshCookie(resp)
	if second == nil || second.Value == first.Value {
		t.Fatal("refresh must rotate the cookie")
	}

	resp, env = a.do(t, http.MethodPost, "/api/auth/refresh", nil, cookieHeader(first))
	if resp.StatusCode != fiber.StatusUnauthorized || env.Error != "invalid or expired token" {
		t.Fatalf("reused token: %d %q", resp.StatusCode, env.Error)
	}

	resp, _ = a.do(t, http.MethodPost, "/api/auth/refresh", nil, nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("missing cookie: expected 401, got %d", resp.StatusCode)
	}
}

func TestLogoutClearsCookieAndIsIdempotent(t *testing.T) {
	a := newAPIEnv(t, nil)
	a.createAccount(t, "admin@example.com", permission.RoleAdmin)
	_, cookie := a.login(t, "admin@example.com")
	header := map[string]string{fiber.HeaderCookie: "refreshToken=" + cookie.Value}

	for i := 0; i < 2; i++ {
		resp, env := a.do(t, http.MethodPost, "/api/auth/logout", nil, header)
		if resp.StatusCode != fiber.StatusOK || !env.Success {
			t.Fatalf("logout %d: %d %q", i+1, resp.StatusCode, env.Error)
		}
		cleared := refreshCookie(resp)
		if cleared == nil || cleared.Value != "" {
			t.Fatalf("logout %d must clear the cookie", i+1)
		}
	}

	resp, _ := a.do(t, http.MethodPost, "/api/auth/refresh", nil, header)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("refresh after logout: expected 401, got %d", resp.StatusCode)
	}
}

func TestMeRequiresBearerToken(t *testing.T) {
	a := newAPIEnv(t, nil)
	a.createAccount(t, "viewer@example.com", permission.RoleViewer)
	data, _ := a.login(t, "viewer@example.com")

	resp, env := a.do(t, http.MethodGet, "/api/auth/me", nil, nil)
	if resp.StatusCode != fiber.StatusUnauthorized || env.Error != "unauthorized" {
		t.Fatalf("no token: %d %q", resp.StatusCode, env.Error)
	}

	resp, _ = a.do(t, http.MethodGet, "/api/auth/me", nil, bearer("garbage"))
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", resp.StatusCode)
	}

	resp, env = a.do(t, http.MethodGet, "/api/auth/me", nil, bearer(data.AccessToken))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("me: %d %q", resp.StatusCode, env.Error)
	}
	var me struct {
		Email        string   `json:"email"`
		Capabilities []string `json:"capabilities"`
	}
	if err := json.Unmarshal(env.Data, &me); err != nil {
		t.Fatalf("me data: %v", err)
	}
	if me.Email != "viewer@example.com" || len(me.Capabilities) == 0 {
		t.Fatalf("unexpected profile %+v", me)
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	a := newAPIEnv(t, nil)
	a.createAccount(t, "admin@example.com", permission.RoleAdmin)
	data, _ := a.login(t, "admin@example.com")

	resp, env := a.do(t, http.MethodPost, "/api/auth/change-password", fiber.Map{
		"currentPassword": "not-the-password",
		"newPassword":     "a-brand-new-password",
	}, bearer(data.AccessToken))
	if resp.StatusCode != fiber.StatusBadRequest || env.Error != "current password is incorrect" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, env.Error)
	}

	resp, env = a.do(t, http.MethodPost, "/api/auth/change-password", fiber.Map{
		"currentPassword": testPassword,
		"newPassword":     "a-brand-new-password",
	}, bearer(data.AccessToken))
	if resp.StatusCode != fiber.StatusOK || !env.Success {
		t.Fatalf("change password: %d %q", resp.StatusCode, env.Error)
	}
}

func TestTwoFactorVerifyRejectsWrongCode(t *testing.T) {
	a := newAPIEnv(t, nil)
	a.createAccount(t, "admin@example.com", permission.RoleAdmin)
	data, _ := a.login(t, "admin@example.com")

	resp, env := a.do(t, http.MethodPost, "/api/auth/2fa/setup", nil, bearer(data.AccessToken))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("setup: %d %q", resp.StatusCode, env.Error)
	}

	resp, env = a.do(t, http.MethodPost, "/api/auth/2fa/enable", fiber.Map{"code": "000000"}, bearer(data.AccessToken))
	if resp.StatusCode != fiber.StatusBadRequest || env.Error != "invalid two-factor code" {
		t.Fatalf("enable with wrong code: %d %q", resp.StatusCode, env.Error)
	}

	resp, env = a.do(t, http.MethodGet, "/api/auth/2fa/status", nil, bearer(data.AccessToken))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status: %d %q", resp.StatusCode, env.Error)
	}
	var status struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("status data: %v", err)
	}
	if status.Enabled {
		t.Fatal("two-factor must stay disabled after a wrong code")
	}

	resp, env = a.do(t, http.MethodPost, "/api/auth/2fa/verify", fiber.Map{"email": "admin@example.com", "code": "123456"}, nil)
	if resp.StatusCode != fiber.StatusBadRequest || env.Verified == nil || *env.Verified {
		t.Fatalf("verify: %d %+v", resp.StatusCode, env)
	}
}

func quoteBody(email string) fiber.Map {
	return fiber.Map{
		"name":       "Site Manager",
		"email":      email,
		"phone":      "+1 (555) 010-2030",
		"company":    "Acme Builders",
		"message":    "Need 200m of 2.5mm cable.",
		"renderedAt": time.Now().Add(-10 * time.Second).UnixMilli(),
	}
}

func TestSubmitQuote(t *testing.T) {
	a := newAPIEnv(t, nil)

	resp, env := a.do(t, http.MethodPost, "/api/quotes", quoteBody("buyer@example.com"), nil)
	if resp.StatusCode != fiber.StatusCreated || !env.Success {
		t.Fatalf("submit: %d %q", resp.StatusCode, env.Error)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &created); err != nil || created.ID == "" {
		t.Fatalf("expected quote id, got %s", env.Data)
	}

	resp, env = a.do(t, http.MethodPost, "/api/quotes", quoteBody("buyer@example.com"), nil)
	if resp.StatusCode != fiber.StatusBadRequest || env.Error != "your request was already received" {
		t.Fatalf("duplicate: %d %q", resp.StatusCode, env.Error)
	}
}

func TestSubmitQuoteRejectsBots(t *testing.T) {
	a := newAPIEnv(t, nil)

	body := quoteBody("bot@example.com")
	body["website"] = "http://spam.example"
	resp, env := a.do(t, http.MethodPost, "/api/quotes", body, nil)
	if resp.StatusCode != fiber.StatusBadRequest || env.Error != "invalid request" {
		t.Fatalf("honeypot: %d %q", resp.StatusCode, env.Error)
	}

	body = quoteBody("fast@example.com")
	body["renderedAt"] = time.Now().UnixMilli()
	resp, env = a.do(t, http.MethodPost, "/api/quotes", body, nil)
	if resp.StatusCode != fiber.StatusBadRequest || env.Error != "invalid request" {
		t.Fatalf("too fast: %d %q", resp.StatusCode, env.Error)
	}

	body = quoteBody("buyer@example.com")
	delete(body, "message")
	resp, env = a.do(t, http.MethodPost, "/api/quotes", body, nil)
	if resp.StatusCode != fiber.StatusBadRequest || env.Error != "message is required" {
		t.Fatalf("validation: %d %q", resp.StatusCode, env.Error)
	}
}

func TestSubmitQuoteRateLimited(t *testing.T) {
	a := newAPIEnv(t, func(cfg *authcore.Config) {
		cfg.Abuse.DailyCap = 0
	})

	for i := 0; i < 5; i++ {
		resp, env := a.do(t, http.MethodPost, "/api/quotes", quoteBody(fmt.Sprintf("buyer%d@example.com", i)), nil)
		if resp.StatusCode != fiber.StatusCreated {
			t.Fatalf("quote %d: %d %q", i+1, resp.StatusCode, env.Error)
		}
		if i == 0 {
			a.mr.FastForward(15 * time.Minute)
		}
	}
	resp, env := a.do(t, http.MethodPost, "/api/quotes", quoteBody("buyer9@example.com"), nil)
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if env.Error != "too many requests, please try again later" {
		t.Fatalf("unexpected 429 message %q", env.Error)
	}
	// One hour window, fifteen minutes spent.
	if got := resp.Header.Get(fiber.HeaderRetryAfter); got != "2700" || env.RetryAfter != 2700 {
		t.Fatalf("expected retry-after of 2700s, got header %q body %d", got, env.RetryAfter)
	}
}

func TestSubmitQuoteDailyCapIsBadRequest(t *testing.T) {
	a := newAPIEnv(t, func(cfg *authcore.Config) {
		cfg.Abuse.DailyCap = 2
		cfg.Abuse.DuplicateWindow = 0
	})

	for i := 0; i < 2; i++ {
		resp, env := a.do(t, http.MethodPost, "/api/quotes", quoteBody("repeat@example.com"), nil)
		if resp.StatusCode != fiber.StatusCreated {
			t.Fatalf("quote %d: %d %q", i+1, resp.StatusCode, env.Error)
		}
	}
	resp, env := a.do(t, http.MethodPost, "/api/quotes", quoteBody("repeat@example.com"), nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("daily cap: expected 400, got %d", resp.StatusCode)
	}
	if env.Success || env.Error == "" || env.RetryAfter != 0 {
		t.Fatalf("unexpected daily cap body %+v", env)
	}
	if h := resp.Header.Get(fiber.HeaderRetryAfter); h != "" {
		t.Fatalf("daily cap must not carry a rate-limit hint, got Retry-After %q", h)
	}
}

func TestListQuotesRequiresCapability(t *testing.T) {
	a := newAPIEnv(t, nil)
	a.createAccount(t, "viewer@example.com", permission.RoleViewer)

	for i := 0; i < 3; i++ {
		resp, env := a.do(t, http.MethodPost, "/api/quotes", quoteBody(fmt.Sprintf("lead%d@example.com", i)), nil)
		if resp.StatusCode != fiber.StatusCreated {
			t.Fatalf("quote %d: %d %q", i+1, resp.StatusCode, env.Error)
		}
	}

	resp, _ := a.do(t, http.MethodGet, "/api/quotes", nil, nil)
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("anonymous list: expected 401, got %d", resp.StatusCode)
	}

	data, _ := a.login(t, "viewer@example.com")
	resp, env := a.do(t, http.MethodGet, "/api/quotes?page=1&limit=2", nil, bearer(data.AccessToken))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("list: %d %q", resp.StatusCode, env.Error)
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		t.Fatalf("list data: %v", err)
	}
	if len(rows) != 2 || env.Pagination.Total != 3 || env.Pagination.Page != 1 {
		t.Fatalf("unexpected page: %d rows, %+v", len(rows), env.Pagination)
	}
}

func TestRoleWithoutCapabilityIsForbidden(t *testing.T) {
	reg := permission.NewRegistry()
	for _, c := range []permission.Capability{permission.CapCatalogRead, permission.CapQuotesRead} {
		if _, err := reg.Register(c); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	reg.Freeze()
	rm := permission.NewRoleManager(reg)
	if err := rm.RegisterRole(permission.RoleViewer, []permission.Capability{permission.CapCatalogRead}); err != nil {
		t.Fatalf("RegisterRole: %v", err)
	}
	rm.Freeze()

	a := newAPIEnvWithRoles(t, nil, rm)
	a.createAccount(t, "viewer@example.com", permission.RoleViewer)
	data, _ := a.login(t, "viewer@example.com")

	resp, env := a.do(t, http.MethodGet, "/api/quotes", nil, bearer(data.AccessToken))
	if resp.StatusCode != fiber.StatusForbidden || env.Error != "forbidden" {
		t.Fatalf("expected 403, got %d %q", resp.StatusCode, env.Error)
	}
}
