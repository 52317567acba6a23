package authcore

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/eis-1/electrical-supplier-website-sub001/internal/abuse"
	"github.com/eis-1/electrical-supplier-website-sub001/internal/rate"
	"github.com/google/uuid"
)

const (
	defaultQuotePageSize = 20
	maxQuotePageSize     = 100
)

// SubmitQuote screens a public lead submission and stores it when it passes.
// Rate limiting comes first and is keyed by client IP; a screener rejection
// is returned as a *SpamError whose UserMessage is safe to show.
func (e *Engine) SubmitQuote(ctx context.Context, in QuoteInput) (*Quote, error) {
	if e == nil || e.quotes == nil || e.screener == nil {
		return nil, ErrEngineNotReady
	}
	ip := clientIPFromContext(ctx)
	if err := e.allow(ctx, rate.ScopeQuote, ip); err != nil {
		return nil, err
	}

	email := normalizeEmail(in.Email)
	phone := normalizePhone(in.Phone)
	contactKey := e.vault.KeyedDigest("quote", email, phone)
	now := e.now()

	sctx, cancel := e.bounded(ctx)
	err := e.screener.Screen(sctx, abuse.Submission{
		ClientIP:   ip,
		ContactKey: contactKey,
		Honeypot:   in.Honeypot,
		RenderedAt: in.RenderedAt,
	}, now)
	cancel()
	if err != nil {
		var rej *abuse.Rejection
		if errors.As(err, &rej) {
			if rej.Stage == abuse.StageDuplicate {
				e.metricInc(MetricQuoteDuplicate)
			} else {
				e.metricInc(MetricQuoteRejected)
			}
			e.emitSpam(ctx, rej)
			spam := &SpamError{Stage: string(rej.Stage), UserMessage: rej.UserMessage(), Hostile: rej.Hostile}
			if rej.Stage == abuse.StageDailyCap {
				spam.RetryAfter = untilNextDay(now, e.location)
			}
			return nil, spam
		}
		return nil, e.storeFailure(err)
	}

	q := &Quote{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(in.Name),
		Email:      email,
		Phone:      phone,
		Company:    strings.TrimSpace(in.Company),
		Message:    strings.TrimSpace(in.Message),
		ContactKey: contactKey,
		ClientIP:   ip,
		CreatedAt:  now.UTC(),
	}
	sctx, cancel = e.bounded(ctx)
	err = e.quotes.CreateQuote(sctx, q)
	cancel()
	if err != nil {
		return nil, e.storeFailure(err)
	}

	e.metricInc(MetricQuoteAccepted)
	e.emitAudit(ctx, auditEventQuoteAccepted, true, "", "", nil, func() map[string]string {
		return map[string]string{"quote_id": q.ID}
	})
	return q, nil
}

// ListQuotes pages through accepted leads, newest first. limit is clamped to
// [1, 100]; zero selects the default page size.
func (e *Engine) ListQuotes(ctx context.Context, limit, offset int) ([]Quote, int64, error) {
	if e == nil || e.quotes == nil {
		return nil, 0, ErrEngineNotReady
	}
	switch {
	case limit <= 0:
		limit = defaultQuotePageSize
	case limit > maxQuotePageSize:
		limit = maxQuotePageSize
	}
	if offset < 0 {
		offset = 0
	}

	sctx, cancel := e.bounded(ctx)
	defer cancel()
	quotes, total, err := e.quotes.ListQuotes(sctx, limit, offset)
	if err != nil {
		return nil, 0, e.storeFailure(err)
	}
	return quotes, total, nil
}

// untilNextDay is the wait until the daily cap resets in loc.
func untilNextDay(now time.Time, loc *time.Location) time.Duration {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return next.Sub(local)
}

// normalizePhone keeps digits and a leading plus sign so that formatting
// differences do not defeat duplicate detection.
func normalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
