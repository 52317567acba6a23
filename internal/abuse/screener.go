package abuse

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stage identifies which check rejected a submission.
type Stage string

const (
	StageHoneypot  Stage = "honeypot"
	StageTooFast   Stage = "timing_too_fast"
	StageTooSlow   Stage = "timing_too_slow"
	StageDuplicate Stage = "duplicate"
	StageDailyCap  Stage = "daily_cap"
)

// ErrHistoryUnavailable wraps History failures.
var ErrHistoryUnavailable = errors.New("submission history unavailable")

const (
	MessageInvalid   = "invalid request"
	MessageDuplicate = "your request was already received"
	MessageRetry     = "too many requests, please try again later"
)

// Rejection describes why a submission was refused.
type Rejection struct {
	Stage       Stage
	Identifier  string
	Measurement string
	// Hostile is false for rejections that are likely honest user
	// behaviour, such as a double submit.
	Hostile bool
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("submission rejected at %s", r.Stage)
}

// UserMessage is the text safe to show the submitter. It never reveals
// which heuristic fired, except for duplicates.
func (r *Rejection) UserMessage() string {
	switch r.Stage {
	case StageDuplicate:
		return MessageDuplicate
	case StageDailyCap:
		return MessageRetry
	default:
		return MessageInvalid
	}
}

// Submission is the screening view of one lead.
type Submission struct {
	ClientIP   string
	ContactKey string
	Honeypot   string
	// RenderedAt is when the form was served to the client. The zero value
	// means the client did not report it.
	RenderedAt time.Time
}

// History answers questions about earlier accepted submissions.
type History interface {
	ContactSubmittedSince(ctx context.Context, contactKey string, since time.Time) (bool, error)
	CountContactSince(ctx context.Context, contactKey string, since time.Time) (int64, error)
}

// Config holds the screening thresholds.
type Config struct {
	MinElapsed      time.Duration
	MaxElapsed      time.Duration
	DuplicateWindow time.Duration
	DailyCap        int
	// Location decides where a "day" starts for the daily cap.
	Location *time.Location
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinElapsed:      1500 * time.Millisecond,
		MaxElapsed:      time.Hour,
		DuplicateWindow: 10 * time.Minute,
		DailyCap:        5,
		Location:        time.UTC,
	}
}

// Screener runs the checks.
type Screener struct {
	cfg     Config
	history History
}

func NewScreener(cfg Config, history History) *Screener {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Screener{cfg: cfg, history: history}
}

// Screen returns nil for a clean submission, a *Rejection when a heuristic
// fires, or an ErrHistoryUnavailable error when the history lookup fails.
func (s *Screener) Screen(ctx context.Context, sub Submission, now time.Time) error {
	if strings.TrimSpace(sub.Honeypot) != "" {
		return &Rejection{Stage: StageHoneypot, Identifier: sub.ClientIP, Measurement: "filled", Hostile: true}
	}

	if err := s.checkTiming(sub, now); err != nil {
		return err
	}

	if s.history == nil || sub.ContactKey == "" {
		return nil
	}

	if s.cfg.DuplicateWindow > 0 {
		dup, err := s.history.ContactSubmittedSince(ctx, sub.ContactKey, now.Add(-s.cfg.DuplicateWindow))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
		}
		if dup {
			return &Rejection{
				Stage:       StageDuplicate,
				Identifier:  sub.ContactKey,
				Measurement: s.cfg.DuplicateWindow.String(),
			}
		}
	}

	if s.cfg.DailyCap > 0 {
		count, err := s.history.CountContactSince(ctx, sub.ContactKey, startOfDay(now, s.cfg.Location))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHistoryUnavailable, err)
		}
		if count >= int64(s.cfg.DailyCap) {
			return &Rejection{
				Stage:       StageDailyCap,
				Identifier:  sub.ContactKey,
				Measurement: strconv.FormatInt(count, 10),
				Hostile:     true,
			}
		}
	}

	return nil
}

func (s *Screener) checkTiming(sub Submission, now time.Time) error {
	if s.cfg.MinElapsed <= 0 && s.cfg.MaxElapsed <= 0 {
		return nil
	}
	if sub.RenderedAt.IsZero() || sub.RenderedAt.After(now) {
		return &Rejection{Stage: StageTooFast, Identifier: sub.ClientIP, Measurement: "missing", Hostile: true}
	}

	elapsed := now.Sub(sub.RenderedAt)
	ms := strconv.FormatInt(elapsed.Milliseconds(), 10) + "ms"
	if s.cfg.MinElapsed > 0 && elapsed < s.cfg.MinElapsed {
		return &Rejection{Stage: StageTooFast, Identifier: sub.ClientIP, Measurement: ms, Hostile: true}
	}
	if s.cfg.MaxElapsed > 0 && elapsed > s.cfg.MaxElapsed {
		return &Rejection{Stage: StageTooSlow, Identifier: sub.ClientIP, Measurement: ms}
	}
	return nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
