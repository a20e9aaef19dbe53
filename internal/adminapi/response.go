package adminapi

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/session"
	"go.uber.org/zap"
)

// Response is the JSON envelope of every admin route.
type Response struct {
	Code string      `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Code: "OK", Msg: "success", Data: data})
}

func fail(c echo.Context, status int, code, msg string, detail interface{}) error {
	return c.JSON(status, Response{Code: code, Msg: msg, Data: detail})
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func handleValidationError(c echo.Context, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		details := make([]fieldError, 0, len(verrs))
		for _, fe := range verrs {
			details = append(details, fieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
		}
		return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", details)
	}
	return fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", err.Error())
}

// failSession maps session errors onto HTTP responses. Anything unexpected is a
// generic 500 and the cause stays in the log.
func failSession(c echo.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return fail(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
	case errors.Is(err, session.ErrInvalid):
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, session.ErrNotConnected):
		return fail(c, http.StatusConflict, "SESSION_NOT_CONNECTED", "Session is not connected", nil)
	case errors.Is(err, session.ErrNoPairingCode):
		return fail(c, http.StatusNotFound, "NO_PAIRING_CODE", "No pairing code available", nil)
	}
	zap.L().Error("adminapi: unexpected error",
		zap.String("path", c.Path()), zap.String("session_id", c.Param("id")), zap.Error(err))
	return fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
}
