package webhook

import (
	"bytes"
	"net/textproto"
	"strings"
	"time"

	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/gofiber/fiber/v3"
)

// Handlers exposes the router over fiber.
type Handlers struct {
	router    *Router
	publicURL string
}

// NewHandlers builds the HTTP layer. publicURL is the externally visible
// base URL that providers sign, for example https://hooks.example.com.
func NewHandlers(router *Router, publicURL string) *Handlers {
	return &Handlers{router: router, publicURL: strings.TrimSuffix(publicURL, "/")}
}

func (h *Handlers) Register(app *fiber.App) {
	app.Get("/webhooks/:provider", h.Provider)
	app.Post("/webhooks/:provider", h.Provider)
	app.Post("/workflow-webhooks/:workflowId", h.Workflow)
}

func (h *Handlers) Provider(c fiber.Ctx) error {
	req := h.inbound(c)
	req.Provider = c.Params("provider")

	outcome := h.router.HandleProvider(c.Context(), req)

	return c.Status(outcome.Status).JSON(outcome.Body)
}

func (h *Handlers) Workflow(c fiber.Ctx) error {
	outcome := h.router.HandleWorkflow(c.Context(), c.Params("workflowId"), c.Query("node"), h.inbound(c))

	return c.Status(outcome.Status).JSON(outcome.Body)
}

func (h *Handlers) inbound(c fiber.Ctx) *protocol.InboundRequest {
	headers := make(map[string]string)

	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[textproto.CanonicalMIMEHeaderKey(key)] = values[0]
		}
	}

	return &protocol.InboundRequest{
		Method:     c.Method(),
		URL:        h.publicURL + c.OriginalURL(),
		Headers:    headers,
		Query:      c.Queries(),
		Body:       bytes.Clone(c.Body()),
		ReceivedAt: time.Now().UTC(),
	}
}
