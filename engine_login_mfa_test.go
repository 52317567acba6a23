package authcore

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub001/permission"
)

func twoFactorAccount(t *testing.T, env *testEnv) (id, secret string, backup []string) {
	t.Helper()
	id = env.createAccount(t, "mfa@example.com", permission.RoleAdmin)
	secret, backup = env.enableTwoFactor(t, id)
	env.nextStep()
	return id, secret, backup
}

func startLogin(t *testing.T, env *testEnv, ip string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(ipContext(ip), "mfa@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !res.RequiresTwoFactor || res.Tokens != nil {
		t.Fatalf("expected a pending second factor, got %+v", res)
	}
	return res
}

func TestLoginWithTwoFactorIssuesTokensOnlyAfterCode(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id, secret, _ := twoFactorAccount(t, env)

	res := startLogin(t, env, "10.1.0.1")
	if res.AccountID != id {
		t.Fatalf("expected account id %s, got %s", id, res.AccountID)
	}

	done, err := env.engine.CompleteLogin(ipContext("10.1.0.1"), id, env.code(t, secret, 0), false)
	if err != nil {
		t.Fatalf("CompleteLogin failed: %v", err)
	}
	if done.Tokens == nil || done.Tokens.AccessToken == "" {
		t.Fatal("expected tokens after the second factor")
	}
	if done.Principal.Email != "mfa@example.com" {
		t.Fatalf("unexpected principal %+v", done.Principal)
	}

	// The challenge is single use.
	_, err = env.engine.CompleteLogin(ipContext("10.1.0.1"), id, env.code(t, secret, 1), false)
	if !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode on reused challenge, got %v", err)
	}

	ev, ok := findEvent(env.drainEvents(), auditEventLoginSuccess)
	if !ok || ev.Metadata["method"] != "totp" {
		t.Fatalf("expected totp login_success, got %+v", ev)
	}
}

func TestCompleteLoginWithoutChallengeFails(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id, secret, _ := twoFactorAccount(t, env)

	_, err := env.engine.CompleteLogin(ipContext("10.1.0.2"), id, env.code(t, secret, 0), false)
	if !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode, got %v", err)
	}
	if _, err := env.engine.CompleteLogin(ipContext("10.1.0.2"), "", "123456", false); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode for empty id, got %v", err)
	}
}

func TestCompleteLoginExpiredChallenge(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id, secret, _ := twoFactorAccount(t, env)
	startLogin(t, env, "10.1.0.3")

	env.clock.Advance(env.engine.config.TOTP.ChallengeTTL + time.Second)
	_, err := env.engine.CompleteLogin(ipContext("10.1.0.3"), id, env.code(t, secret, 0), false)
	if !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode, got %v", err)
	}
}

func TestCompleteLoginBurnsChallengeAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id, secret, _ := twoFactorAccount(t, env)
	startLogin(t, env, "10.1.0.4")
	ctx := ipContext("10.1.0.4")

	max := env.engine.config.TOTP.ChallengeMaxAttempts
	for i := 0; i < max; i++ {
		if _, err := env.engine.CompleteLogin(ctx, id, "000000", false); !errors.Is(err, ErrInvalidTwoFactorCode) {
			t.Fatalf("attempt %d: expected ErrInvalidTwoFactorCode, got %v", i+1, err)
		}
	}

	// A correct code no longer helps: the challenge is gone.
	if _, err := env.engine.CompleteLogin(ctx, id, env.code(t, secret, 0), false); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode after burn, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricChallengeAttemptsExceeded]; got != 1 {
		t.Fatalf("expected 1 exhausted challenge, got %d", got)
	}
	if _, ok := findEvent(env.drainEvents(), auditEventChallengeExhausted); !ok {
		t.Fatal("expected two_factor_attempts_exceeded event")
	}
}

func TestCompleteLoginWithBackupCodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id, _, backup := twoFactorAccount(t, env)

	startLogin(t, env, "10.1.0.5")
	if _, err := env.engine.CompleteLogin(ipContext("10.1.0.5"), id, backup[0], true); err != nil {
		t.Fatalf("backup code login failed: %v", err)
	}

	startLogin(t, env, "10.1.0.5")
	if _, err := env.engine.CompleteLogin(ipContext("10.1.0.5"), id, backup[0], true); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected spent backup code to fail, got %v", err)
	}
	// Formatting differences do not matter.
	formatted := " " + strings.ToLower(strings.ReplaceAll(backup[1], "-", "")) + " "
	if _, err := env.engine.CompleteLogin(ipContext("10.1.0.5"), id, formatted, true); err != nil {
		t.Fatalf("formatted backup code failed: %v", err)
	}

	status, err := env.engine.TwoFactorStatus(ipContext("10.1.0.5"), id)
	if err != nil {
		t.Fatalf("TwoFactorStatus failed: %v", err)
	}
	if status.BackupCodesRemaining != len(backup)-2 {
		t.Fatalf("expected %d codes left, got %d", len(backup)-2, status.BackupCodesRemaining)
	}

	ev, ok := findEvent(env.drainEvents(), auditEventBackupCodeUsed)
	if !ok || ev.AccountID != id {
		t.Fatalf("expected backup_code_used event, got %+v", ev)
	}
}

func TestTOTPReplayRejected(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id, secret, _ := twoFactorAccount(t, env)
	code := env.code(t, secret, 0)

	startLogin(t, env, "10.1.0.6")
	if _, err := env.engine.CompleteLogin(ipContext("10.1.0.6"), id, code, false); err != nil {
		t.Fatalf("first use failed: %v", err)
	}

	startLogin(t, env, "10.1.0.6")
	if _, err := env.engine.CompleteLogin(ipContext("10.1.0.6"), id, code, false); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected replay to fail, got %v", err)
	}
	// An older step inside the skew window is also refused.
	if _, err := env.engine.CompleteLogin(ipContext("10.1.0.6"), id, env.code(t, secret, -1), false); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected earlier step to fail, got %v", err)
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricTOTPReplayRejected]; got != 2 {
		t.Fatalf("expected 2 replay rejections, got %d", got)
	}
	if _, ok := findEvent(env.drainEvents(), auditEventTOTPReplay); !ok {
		t.Fatal("expected totp_replay_rejected event")
	}
}

func TestTOTPSkewAcceptsNeighbourStep(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id, secret, _ := twoFactorAccount(t, env)
	env.nextStep()

	startLogin(t, env, "10.1.0.7")
	// Previous step: still inside the default skew of one.
	if _, err := env.engine.CompleteLogin(ipContext("10.1.0.7"), id, env.code(t, secret, -1), false); err != nil {
		t.Fatalf("code from the previous step should pass: %v", err)
	}

	env.nextStep()
	startLogin(t, env, "10.1.0.7")
	if _, err := env.engine.CompleteLogin(ipContext("10.1.0.7"), id, env.code(t, secret, 3), false); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("code three steps ahead should fail, got %v", err)
	}
}

func TestConcurrentCompleteLoginSingleWinner(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id, secret, _ := twoFactorAccount(t, env)
	startLogin(t, env, "10.1.0.8")
	code := env.code(t, secret, 0)

	const workers = 8
	var wg sync.WaitGroup
	var wins atomic.Int32
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := env.engine.CompleteLogin(ipContext("10.1.0.8"), id, code, false); err == nil {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one completed login, got %d", wins.Load())
	}
}

func TestVerifySecondFactorNeverIssuesTokens(t *testing.T) {
	env := newTestEnv(t, testConfig())
	_, secret, backup := twoFactorAccount(t, env)
	ctx := ipContext("10.1.0.9")

	ok, err := env.engine.VerifySecondFactor(ctx, "MFA@example.com", env.code(t, secret, 0), false)
	if err != nil || !ok {
		t.Fatalf("expected valid code, got %v, %v", ok, err)
	}
	// Spent exactly as at login.
	if ok, err := env.engine.VerifySecondFactor(ctx, "mfa@example.com", env.code(t, secret, 0), false); ok || !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected replay to fail, got %v, %v", ok, err)
	}
	if ok, err := env.engine.VerifySecondFactor(ctx, "mfa@example.com", backup[0], true); err != nil || !ok {
		t.Fatalf("expected backup code to verify, got %v, %v", ok, err)
	}
	if ok, err := env.engine.VerifySecondFactor(ctx, "ghost@example.com", "123456", false); ok || !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("unknown account should fail like a bad code, got %v, %v", ok, err)
	}

	env.createAccount(t, "plain@example.com", permission.RoleViewer)
	if ok, err := env.engine.VerifySecondFactor(ctx, "plain@example.com", "123456", false); ok || !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("account without 2FA should fail like a bad code, got %v, %v", ok, err)
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricLoginSuccess]; got != 0 {
		t.Fatalf("verification must not count as login, got %d", got)
	}
	if _, ok := findEvent(env.drainEvents(), auditEventTwoFactorVerified); !ok {
		t.Fatal("expected two_factor_verified event")
	}
}

func TestMalformedBackupCodeRejectedWithoutLookup(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id, _, _ := twoFactorAccount(t, env)
	startLogin(t, env, "10.1.0.10")

	if _, err := env.engine.CompleteLogin(ipContext("10.1.0.10"), id, "zz", true); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode, got %v", err)
	}
}
