package authcore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eis-1/electrical-supplier-website-sub001/permission"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-battery"

var errInjected = errors.New("injected store failure")

/*
====================================
FAKE STORES
====================================
*/

type memAccounts struct {
	mu       sync.Mutex
	byID     map[string]*Account
	codes    map[string][]*memBackupCode
	failNext error
}

type memBackupCode struct {
	hash string
	used bool
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		byID:  map[string]*Account{},
		codes: map[string][]*memBackupCode{},
	}
}

// fail makes every call return err until fail(nil).
func (s *memAccounts) fail(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *memAccounts) CreateAccount(_ context.Context, acc *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return s.failNext
	}
	for _, a := range s.byID {
		if a.Email == strings.ToLower(acc.Email) {
			return ErrAccountExists
		}
	}
	cp := *acc
	cp.Email = strings.ToLower(cp.Email)
	s.byID[cp.ID] = &cp
	return nil
}

func (s *memAccounts) FindAccountByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return nil, s.failNext
	}
	for _, a := range s.byID {
		if a.Email == strings.ToLower(email) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *memAccounts) FindAccountByID(_ context.Context, id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return nil, s.failNext
	}
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memAccounts) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return s.failNext
	}
	a, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.PasswordHash = hash
	return nil
}

func (s *memAccounts) SetPendingTOTP(_ context.Context, id, sealed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	if a.TwoFactor == TwoFactorEnabled {
		return ErrTwoFactorAlreadyEnabled
	}
	a.TwoFactor = TwoFactorPending
	a.TOTPSecret = sealed
	return nil
}

func (s *memAccounts) EnableTOTP(_ context.Context, id string, counter int64, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok || a.TwoFactor != TwoFactorPending {
		return ErrTwoFactorNotPending
	}
	a.TwoFactor = TwoFactorEnabled
	a.TOTPLastCounter = counter
	s.codes[id] = toCodes(hashes)
	return nil
}

func (s *memAccounts) DisableTOTP(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.TwoFactor = TwoFactorDisabled
	a.TOTPSecret = ""
	a.TOTPLastCounter = 0
	delete(s.codes, id)
	return nil
}

func (s *memAccounts) AdvanceTOTPCounter(_ context.Context, id string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return false, s.failNext
	}
	a, ok := s.byID[id]
	if !ok || counter <= a.TOTPLastCounter {
		return false, nil
	}
	a.TOTPLastCounter = counter
	return true, nil
}

func (s *memAccounts) ConsumeBackupCode(_ context.Context, id, hash string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		return false, s.failNext
	}
	for _, c := range s.codes[id] {
		if c.hash == hash && !c.used {
			c.used = true
			return true, nil
		}
	}
	return false, nil
}

func (s *memAccounts) ReplaceBackupCodes(_ context.Context, id string, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[id] = toCodes(hashes)
	return nil
}

func (s *memAccounts) CountUnusedBackupCodes(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.codes[id] {
		if !c.used {
			n++
		}
	}
	return n, nil
}

func (s *memAccounts) get(id string) Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.byID[id]
}

func toCodes(hashes []string) []*memBackupCode {
	out := make([]*memBackupCode, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, &memBackupCode{hash: h})
	}
	return out
}

type memQuotes struct {
	mu     sync.Mutex
	quotes []Quote
}

func (s *memQuotes) ContactSubmittedSince(ctx context.Context, key string, since time.Time) (bool, error) {
	n, err := s.CountContactSince(ctx, key, since)
	return n > 0, err
}

func (s *memQuotes) CountContactSince(_ context.Context, key string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, q := range s.quotes {
		if q.ContactKey == key && !q.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *memQuotes) CreateQuote(_ context.Context, q *Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, *q)
	return nil
}

func (s *memQuotes) ListQuotes(_ context.Context, limit, offset int) ([]Quote, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := append([]Quote(nil), s.quotes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	total := int64(len(sorted))
	if offset >= len(sorted) {
		return []Quote{}, total, nil
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[offset:end], total, nil
}

/*
====================================
ENGINE HARNESS
====================================
*/

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	engine   *Engine
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	accounts *memAccounts
	quotes   *memQuotes
	sink     *ChannelSink
	clock    *testClock
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte(strings.Repeat("k", 32))
	cfg.Vault.MasterKey = []byte(strings.Repeat("v", 32))
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.BufferSize = 256
	cfg.Audit.DropIfFull = false
	cfg.RateLimit.Auth.Max = 100
	cfg.RateLimit.TwoFactor.Max = 100
	cfg.RateLimit.Quote.Max = 100
	return cfg
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	env := &testEnv{
		mr:       mr,
		rdb:      rdb,
		accounts: newMemAccounts(),
		quotes:   &memQuotes{},
		sink:     NewChannelSink(1024),
		clock:    &testClock{now: time.Now()},
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(env.accounts).
		WithQuoteStore(env.quotes).
		WithAuditSink(env.sink).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	engine.now = env.clock.Now
	env.engine = engine

	t.Cleanup(func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	})
	return env
}

func ipContext(ip string) context.Context {
	return WithClientIP(context.Background(), ip)
}

func (env *testEnv) createAccount(t *testing.T, email string, role permission.Role) string {
	t.Helper()
	p, err := env.engine.CreateAccount(context.Background(), email, testPassword, role)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return p.ID
}

// enableTwoFactor enrolls the account and returns the base32 secret and the
// plaintext backup codes. The enrollment consumes the current time step.
func (env *testEnv) enableTwoFactor(t *testing.T, accountID string) (string, []string) {
	t.Helper()
	ctx := ipContext("10.9.9.9")
	setup, err := env.engine.SetupTwoFactor(ctx, accountID)
	if err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}
	codes, err := env.engine.EnableTwoFactor(ctx, accountID, env.code(t, setup.Secret, 0))
	if err != nil {
		t.Fatalf("EnableTwoFactor failed: %v", err)
	}
	return setup.Secret, codes
}

// code returns the TOTP code for the step offset steps away from the test
// clock.
func (env *testEnv) code(t *testing.T, secret string, offset int) string {
	t.Helper()
	cfg := env.engine.config.TOTP
	at := env.clock.Now().Add(time.Duration(offset) * time.Duration(cfg.Period) * time.Second)
	c, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    cfg.Period,
		Digits:    otp.Digits(cfg.Digits),
		Algorithm: parseOTPAlgorithm(cfg.Algorithm),
	})
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	return c
}

// nextStep moves the clock to the start of the next TOTP step so a fresh
// code is available.
func (env *testEnv) nextStep() {
	period := time.Duration(env.engine.config.TOTP.Period) * time.Second
	now := env.clock.Now()
	env.clock.Advance(period - time.Duration(now.UnixNano())%period)
}

// drainEvents closes the engine, which flushes the dispatcher, and returns
// every event delivered. Call it once, after the operations under test.
func (env *testEnv) drainEvents() []AuditEvent {
	env.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-env.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func findEvent(events []AuditEvent, eventType string) (AuditEvent, bool) {
	for _, ev := range events {
		if ev.EventType == eventType {
			return ev, true
		}
	}
	return AuditEvent{}, false
}
