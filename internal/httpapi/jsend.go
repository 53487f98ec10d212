package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// JSend envelope statuses.
const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func success(c echo.Context, data any) error {
	return successWithStatus(c, http.StatusOK, data)
}

// successWithStatus lets health report 503 while still carrying data.
func successWithStatus(c echo.Context, code int, data any) error {
	return c.JSON(code, envelope{Status: statusSuccess, Data: data})
}

func fail(c echo.Context, code int, message string, data any) error {
	resp := envelope{Status: statusFail, Message: message}
	if data != nil {
		resp.Data = data
	}
	return c.JSON(code, resp)
}

func failValidation(c echo.Context, problems map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": problems,
	})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

func internalError(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, envelope{
		Status:  statusError,
		Message: message,
		Code:    http.StatusInternalServerError,
	})
}
