package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"google.golang.org/grpc/codes"
)

const statusClientClosedRequest = 499

var codeStatus = map[codes.Code]int{
	codes.OK:                 http.StatusOK,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.NotFound:           http.StatusNotFound,
	codes.Aborted:            http.StatusConflict,
	codes.Unavailable:        http.StatusBadGateway,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.Canceled:           statusClientClosedRequest,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.FailedPrecondition: http.StatusPreconditionFailed,
}

// NewResponseError converts a domain error into the error envelope. Messages
// of server side failures are not exposed.
func NewResponseError(err error) *ResponseError {
	code := models.Code(err)
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	resp := &ResponseError{
		Status:    status,
		Err:       err,
		ErrorCode: code.String(),
	}
	if status < http.StatusInternalServerError {
		resp.ErrorMessage = err.Error()
	} else {
		resp.ErrorMessage = http.StatusText(status)
	}
	return resp
}

// ErrorHandler return custom http error handler.
func ErrorHandler(log Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if err == nil || c.Response().Committed {
			return
		}

		var resp *ResponseError
		switch v := err.(type) {
		case *echo.HTTPError:
			resp = &ResponseError{
				Status:       v.Code,
				Err:          err,
				ErrorCode:    http.StatusText(v.Code),
				ErrorMessage: httpErrorMessage(v),
			}
		case *ResponseError:
			resp = v
		default:
			resp = NewResponseError(err)
		}

		if resp.Status == http.StatusNotFound && isNotFoundHandler(c.Handler()) {
			resp.ErrorMessage = "no route matched"
		}
		if resp.Status >= http.StatusInternalServerError {
			log.Errorw("request failed", "status", resp.Status, "uri", c.Request().RequestURI, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(resp.Status)
		} else {
			err = c.JSON(resp.Status, resp)
		}
		if err != nil {
			log.Errorw("could not response", "code", resp.Status, "response_body", resp)
		}
	}
}

func httpErrorMessage(he *echo.HTTPError) string {
	if msg, ok := he.Message.(string); ok {
		return msg
	}
	if he.Internal != nil {
		return he.Internal.Error()
	}
	return http.StatusText(he.Code)
}
