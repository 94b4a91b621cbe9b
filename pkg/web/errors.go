package web

import (
	"errors"

	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// ErrorResponse is an RFC 7807 problem extended with the error fields the
// builder UI reads.
type ErrorResponse struct {
	*problems.Problem

	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func problem(c fiber.Ctx, status int, kind, message string, details any) error {
	body := ErrorResponse{
		Problem: problems.NewStatusProblem(status).
			WithInstance(c.Path()).
			WithType(kind).
			WithDetail(message),
		Error:   message,
		Details: details,
	}

	return c.Status(status).JSON(body)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail, nil)
}

func unauthorized(c fiber.Ctx) error {
	return problem(c, fiber.StatusUnauthorized, "unauthorized", "missing "+UserHeader+" header", nil)
}

func notFound(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusNotFound, "not_found", detail, nil)
}

func internalError(c fiber.Ctx) error {
	return problem(c, fiber.StatusInternalServerError, "internal_error", "internal server error", nil)
}

// handleServiceError maps service, persistence and domain errors to
// problem responses. Unexpected errors never leak their message.
func (h *APIHandlers) handleServiceError(c fiber.Ctx, err error) error {
	var validation *errs.ValidationError

	var apiErr *errs.ExternalAPIError

	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsNotFoundError(err):
		return notFound(c, err.Error())

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution not found")

	case persistence.IsWebhookSubscriptionNotFound(err):
		return notFound(c, "webhook subscription not found")

	case services.IsConflictError(err):
		return problem(c, fiber.StatusConflict, "conflict", err.Error(), nil)

	case errors.As(err, &validation):
		return problem(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error(), validation.Reasons)

	case errs.IsIntegrationMissing(err):
		var missing *errs.IntegrationMissingError
		if errors.As(err, &missing) {
			return problem(c, fiber.StatusUnprocessableEntity, "integration_missing", err.Error(),
				fiber.Map{"provider": missing.Provider})
		}

		return problem(c, fiber.StatusUnprocessableEntity, "integration_missing", err.Error(), nil)

	case errs.IsConfiguration(err):
		return problem(c, fiber.StatusUnprocessableEntity, "configuration_error", err.Error(), nil)

	case errors.As(err, &apiErr):
		return problem(c, fiber.StatusBadGateway, "external_api_error", err.Error(),
			fiber.Map{"provider": apiErr.Provider, "kind": apiErr.Kind, "status": apiErr.Status})

	default:
		h.logger.ErrorContext(c.Context(), "Unhandled API error", "path", c.Path(), "error", err)

		return internalError(c)
	}
}
