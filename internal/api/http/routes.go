package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/pws-ingest/internal/store"
	"github.com/i474232898/pws-ingest/internal/weather"
)

var validate = validator.New()

// RegisterRoutes wires the read-only inspection handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, registry weather.StationRegistry, st weather.Store) {
	v1 := app.Group("/api/v1")

	v1.Get("/stations", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"stations": registry.List()})
	})

	v1.Get("/stations/:station/watermark", func(c *fiber.Ctx) error {
		station, err := registry.LoadStationConfig(c.Params("station"))
		if err != nil {
			return storeError(err, "failed to load station")
		}

		latest, ok, err := st.LatestReadingTimestamp(c.UserContext(), station.ID)
		if err != nil {
			return storeError(err, "failed to read watermark")
		}
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "station has no readings yet")
		}
		return c.JSON(fiber.Map{
			"station":   station.ID,
			"watermark": latest,
		})
	})

	v1.Get("/stations/:station/readings", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		station, err := registry.LoadStationConfig(c.Params("station"))
		if err != nil {
			return storeError(err, "failed to load station")
		}

		readings, err := st.ReadingsBetween(c.UserContext(), station.ID, req.From, req.To)
		if err != nil {
			return storeError(err, "failed to fetch readings")
		}
		return c.JSON(fiber.Map{
			"station":  station.ID,
			"from":     req.From,
			"to":       req.To,
			"readings": readings,
		})
	})

	v1.Get("/responses/:id", func(c *fiber.Ctx) error {
		resp, err := st.Response(c.UserContext(), c.Params("id"))
		if err != nil {
			return storeError(err, "failed to fetch response")
		}
		return c.JSON(resp)
	})

	v1.Get("/responses/:id/body", func(c *fiber.Ctx) error {
		resp, err := st.Response(c.UserContext(), c.Params("id"))
		if err != nil {
			return storeError(err, "failed to fetch response")
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(resp.Body)
	})

	v1.Get("/responses/:id/readings", func(c *fiber.Ctx) error {
		readings, err := st.ReadingsByResponse(c.UserContext(), c.Params("id"))
		if err != nil {
			return storeError(err, "failed to fetch readings")
		}
		return c.JSON(fiber.Map{
			"responseId": c.Params("id"),
			"readings":   readings,
		})
	})
}

// storeError maps lookup failures to 404 and everything else to 500.
func storeError(err error, msg string) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, weather.ErrStationNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, msg)
}

// rangeQuery holds query parameters for the readings endpoint.
type rangeQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	r.From = from.UTC()
	r.To = to.UTC()
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
