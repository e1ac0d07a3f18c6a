package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(app *fiber.App, h *Handler) {
	v1 := app.Group("/v1")

	v1.Get("/queues", h.GetQueues)

	v1.Get("/cases", h.ListCases)
	v1.Get("/cases/:id", h.GetCase)
	v1.Post("/cases/:id/draft", h.GenerateDraft)
	v1.Post("/cases/:id/send", h.SendEmail)
	v1.Get("/cases/:id/sent", h.ListSent)

	v1.Post("/batches", h.TriggerBatch)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
