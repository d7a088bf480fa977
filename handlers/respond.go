// handlers/respond.go
package handlers

import (
	"errors"
	"fmt"

	"rewards-ledger/logger"
	"rewards-ledger/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// statusFor maps a ledger rule kind to its HTTP status.
func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindUnauthorized:
		return fiber.StatusForbidden
	case services.KindInsufficientFunds:
		return fiber.StatusUnprocessableEntity
	case services.KindAlreadyCompleted, services.KindDailyCapReached, services.KindAccountInactive,
		services.KindTaskUnavailable, services.KindAlreadyProcessed:
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}

// writeError renders rule rejections with their message and kind. Anything
// else is an infrastructure failure and is logged, not echoed.
func writeError(c *fiber.Ctx, op string, err error) error {
	var le *services.LedgerError
	if errors.As(err, &le) {
		return c.Status(statusFor(le.Kind)).JSON(fiber.Map{
			"error": le.Message,
			"code":  le.Kind,
		})
	}
	logger.Errorf("[%s] %v", op, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error, please retry",
		"code":  "internal",
	})
}

// bind parses and validates the JSON body into dst. It writes the 400
// response itself and returns false when the body is unusable.
func bind(c *fiber.Ctx, dst interface{}) (bool, error) {
	if err := c.BodyParser(dst); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
			"code":  services.KindValidation,
		})
	}
	if err := validate.Struct(dst); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation failed",
			"code":    services.KindValidation,
			"details": formatValidationError(err),
		})
	}
	return true, nil
}

func formatValidationError(err error) []string {
	var errs []string
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []string{err.Error()}
	}
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			errs = append(errs, fmt.Sprintf("%s is required", field))
		case "gt":
			errs = append(errs, fmt.Sprintf("%s must be greater than %s", field, e.Param()))
		case "oneof":
			errs = append(errs, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "url":
			errs = append(errs, fmt.Sprintf("%s must be a valid URL", field))
		case "max":
			errs = append(errs, fmt.Sprintf("%s must have maximum length %s", field, e.Param()))
		default:
			errs = append(errs, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
		}
	}
	return errs
}
