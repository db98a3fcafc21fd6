package httpapi

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/skybon/weatherchecker/internal/history"
	"github.com/skybon/weatherchecker/internal/weather"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/categories", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"categories": service.Categories()})
	})

	v1.Get("/proxies", func(c *fiber.Ctx) error {
		info := service.ProxyInfo()

		category := c.Query("category")
		if category == "" {
			return c.JSON(info)
		}
		if !service.HasCategory(weather.Category(category)) {
			return fiber.NewError(fiber.StatusBadRequest, "unknown category")
		}

		filtered := make([]weather.ProxyInfo, 0, len(info))
		for _, p := range info {
			if p.Category == weather.Category(category) {
				filtered = append(filtered, p)
			}
		}
		return c.JSON(filtered)
	})

	v1.Post("/refresh/:category", func(c *fiber.Ctx) error {
		// Params point into a buffer fiber reuses; the category outlives the request.
		req := categoryRequest{Category: utils.CopyString(c.Params("category"))}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		category := weather.Category(req.Category)
		if !service.HasCategory(category) {
			return fiber.NewError(fiber.StatusNotFound, "unknown category")
		}

		entry, err := service.Refresh(c.UserContext(), category)
		resp := fiber.Map{"entry": entry}
		if err != nil {
			// The entry is recorded either way; report what failed.
			resp["error"] = err.Error()
		}
		return c.Status(fiber.StatusCreated).JSON(resp)
	})

	v1.Get("/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		var entries []weather.HistoryEntry
		if req.hasRange {
			var err error
			entries, err = service.GetRange(req.From, req.To)
			if err != nil {
				if errors.Is(err, history.ErrNotFound) {
					return fiber.NewError(fiber.StatusNotFound, "no history entries in requested range")
				}
				return fiber.NewError(fiber.StatusInternalServerError, "failed to read history")
			}
		} else {
			entries = service.History()
		}

		if req.Category != "" {
			filtered := entries[:0]
			for _, e := range entries {
				if e.Category == weather.Category(req.Category) {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}

		return c.JSON(fiber.Map{
			"count":   len(entries),
			"entries": entries,
		})
	})

	v1.Get("/history/dates", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"dates": service.Dates()})
	})

	v1.Get("/history/latest", func(c *fiber.Ctx) error {
		req := categoryRequest{Category: c.Query("category")}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		entry, err := service.GetLatest(weather.Category(req.Category))
		if err != nil {
			if errors.Is(err, history.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no history entry for category")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read history")
		}

		return c.JSON(fiber.Map{
			"entry":   entry,
			"summary": weather.Summarize(entry),
		})
	})
}

// categoryRequest identifies a category in a path or query parameter.
type categoryRequest struct {
	Category string `validate:"required,max=64,printascii"`
}

// historyQuery is the optional category filter and inclusive time range of
// GET /history.
type historyQuery struct {
	Category string `validate:"omitempty,max=64,printascii"`
	From     time.Time
	To       time.Time `validate:"gtefield=From"`

	hasRange bool
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	h.Category = c.Query("category")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" && toStr == "" {
		return nil
	}
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters must be given together")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	h.hasRange = true
	return nil
}

// parseTime accepts any RFC 3339 time, including the values listed by
// /history/dates, or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC 3339 or unix seconds", s)
	}
	return ts.UTC(), nil
}
