package web

import (
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) GetWebhooks(c fiber.Ctx) error {
	subscriptions, err := h.webhookService.List(c.Context(), c.Get(UserHeader))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	data := make([]WebhookResponse, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		data = append(data, newWebhookResponse(subscription))
	}

	return c.JSON(fiber.Map{"data": data})
}

func (h *APIHandlers) GetWebhook(c fiber.Ctx) error {
	subscription, err := h.webhookService.Fetch(c.Context(), c.Get(UserHeader), c.Params("id"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"data": newWebhookResponse(subscription)})
}

func (h *APIHandlers) CreateWebhook(c fiber.Ctx) error {
	var req WebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.webhookService.Create(c.Context(), c.Get(UserHeader), req.toModel())
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": newWebhookResponse(created)})
}

func (h *APIHandlers) UpdateWebhook(c fiber.Ctx) error {
	var req WebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.webhookService.Update(c.Context(), c.Get(UserHeader), c.Params("id"), services.WebhookUpdate{
		Name:       req.Name,
		EventTypes: req.EventTypes,
		TargetURL:  req.TargetURL,
		SecretKey:  req.SecretKey,
		Headers:    req.Headers,
		IsActive:   req.IsActive,
	})
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"data": newWebhookResponse(updated)})
}

func (h *APIHandlers) DeleteWebhook(c fiber.Ctx) error {
	if err := h.webhookService.Delete(c.Context(), c.Get(UserHeader), c.Params("id")); err != nil {
		return h.handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// WebhookRequest is the body of subscription create and update calls.
// Updates only change the fields present.
type WebhookRequest struct {
	Name       *string           `json:"name"`
	EventTypes []string          `json:"event_types"`
	TargetURL  *string           `json:"target_url"`
	SecretKey  *string           `json:"secret_key"`
	Headers    map[string]string `json:"headers"`
	IsActive   *bool             `json:"is_active"`
}

func (r WebhookRequest) toModel() *models.WebhookSubscription {
	subscription := &models.WebhookSubscription{
		EventTypes: r.EventTypes,
		Headers:    r.Headers,
		IsActive:   true,
	}

	if r.Name != nil {
		subscription.Name = *r.Name
	}

	if r.TargetURL != nil {
		subscription.TargetURL = *r.TargetURL
	}

	if r.SecretKey != nil {
		subscription.SecretKey = *r.SecretKey
	}

	if r.IsActive != nil {
		subscription.IsActive = *r.IsActive
	}

	return subscription
}

// WebhookResponse never echoes the signing secret.
type WebhookResponse struct {
	*models.WebhookSubscription

	SecretKey string `json:"secret_key,omitempty"`
	HasSecret bool   `json:"has_secret"`
}

func newWebhookResponse(subscription *models.WebhookSubscription) WebhookResponse {
	return WebhookResponse{
		WebhookSubscription: subscription,
		HasSecret:           subscription.SecretKey != "",
	}
}
