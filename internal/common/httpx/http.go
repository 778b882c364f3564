// Package httpx provides HTTP request/response handling utilities shared by
// the hub's API surface. It includes JSON request parsing, a handler wrapper
// that maps application errors to JSON error responses, and a response writer
// that tracks written state for the panic-recovery middleware.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/chatwire/chatwire/internal/common/apperrors"
)

// GetRequestData parses a JSON request body into data. Only POST and PUT
// carry bodies in this API.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		log.Ctx(r.Context()).Error().Msg("empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response describes a handler result: status code, optional Location header,
// and the value to serialize as the JSON body.
type Response struct {
	StatusCode int
	Location   string
	Response   any
}

// RequestHandler is the function type API handlers implement.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp adapts a RequestHandler to http.HandlerFunc, translating
// apperrors status codes and httpx errors into JSON error responses.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			sendHandlerError(w, err)
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
	}
}

func sendHandlerError(w http.ResponseWriter, err error) {
	if httperror, ok := err.(*Error); ok {
		httperror.Send(w)
		return
	}
	if appErr, ok := err.(apperrors.Error); ok {
		statusCode := appErr.StatusCode()
		if statusCode == 0 {
			statusCode = http.StatusInternalServerError
		}
		(&Error{
			StatusCode:  statusCode,
			Description: appErr.ErrorAll(),
		}).Send(w)
		return
	}
	ErrApplicationError(err.Error()).Send(w)
}
