package store

import (
	"context"
	"time"

	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"gorm.io/gorm"
)

// Quotes implements authcore.QuoteStore. The history queries use the
// (contact_key, created_at) index.
type Quotes struct {
	db *gorm.DB
}

func NewQuotes(db *gorm.DB) *Quotes {
	return &Quotes{db: db}
}

var _ authcore.QuoteStore = (*Quotes)(nil)

func (s *Quotes) CreateQuote(ctx context.Context, q *authcore.Quote) error {
	rec := quoteRecord{
		ID:         q.ID,
		Name:       q.Name,
		Email:      q.Email,
		Phone:      q.Phone,
		Company:    q.Company,
		Message:    q.Message,
		ContactKey: q.ContactKey,
		ClientIP:   q.ClientIP,
		CreatedAt:  q.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Quotes) ContactSubmittedSince(ctx context.Context, contactKey string, since time.Time) (bool, error) {
	n, err := s.CountContactSince(ctx, contactKey, since)
	return n > 0, err
}

func (s *Quotes) CountContactSince(ctx context.Context, contactKey string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&quoteRecord{}).
		Where("contact_key = ? AND created_at >= ?", contactKey, since.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// ListQuotes returns one page, newest first, and the total row count.
func (s *Quotes) ListQuotes(ctx context.Context, limit, offset int) ([]authcore.Quote, int64, error) {
	var total int64
	db := s.db.WithContext(ctx)
	if err := db.Model(&quoteRecord{}).Count(&total).Error; err != nil {
		return nil, 0, unavailable(err)
	}

	var recs []quoteRecord
	err := db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&recs).Error
	if err != nil {
		return nil, 0, unavailable(err)
	}

	out := make([]authcore.Quote, 0, len(recs))
	for _, r := range recs {
		out = append(out, authcore.Quote{
			ID:         r.ID,
			Name:       r.Name,
			Email:      r.Email,
			Phone:      r.Phone,
			Company:    r.Company,
			Message:    r.Message,
			ContactKey: r.ContactKey,
			ClientIP:   r.ClientIP,
			CreatedAt:  r.CreatedAt,
		})
	}
	return out, total, nil
}
