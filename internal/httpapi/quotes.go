package httpapi

import (
	"time"

	authcore "github.com/eis-1/electrical-supplier-website-sub001"
	"github.com/eis-1/electrical-supplier-website-sub001/middleware"
	"github.com/eis-1/electrical-supplier-website-sub001/pkg/response"
	"github.com/gofiber/fiber/v2"
)

func (h *Handler) SubmitQuote(c *fiber.Ctx) error {
	var req quoteRequest
	if ok, err := h.bind(c, &req); !ok {
		return err
	}

	var rendered time.Time
	if req.RenderedAt > 0 {
		rendered = time.UnixMilli(req.RenderedAt)
	}

	q, err := h.engine.SubmitQuote(middleware.Context(c), authcore.QuoteInput{
		Name:       req.Name,
		Email:      req.Email,
		Phone:      req.Phone,
		Company:    req.Company,
		Message:    req.Message,
		Honeypot:   req.Website,
		RenderedAt: rendered,
	})
	if err != nil {
		return writeError(c, err)
	}
	return response.Success(c, fiber.StatusCreated, fiber.Map{"id": q.ID})
}

func (h *Handler) ListQuotes(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	quotes, total, err := h.engine.ListQuotes(middleware.Context(c), limit, (page-1)*limit)
	if err != nil {
		return writeError(c, err)
	}

	out := make([]fiber.Map, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, fiber.Map{
			"id":        q.ID,
			"name":      q.Name,
			"email":     q.Email,
			"phone":     q.Phone,
			"company":   q.Company,
			"message":   q.Message,
			"createdAt": q.CreatedAt,
		})
	}
	return response.Paginated(c, out, page, limit, total)
}
