package api

import (
	"errors"
	"net/http"

	"github.com/pario-ai/polyglot/pkg/dispatch"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message  string          `json:"message"`
	Type     string          `json:"type"`
	Code     int             `json:"code"`
	Attempts []attemptDetail `json:"attempts,omitempty"`
}

type attemptDetail struct {
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
}

// statusFor maps a failure kind to an HTTP status code.
func statusFor(kind dispatch.Kind) int {
	switch kind {
	case dispatch.KindInvalidRequest:
		return http.StatusBadRequest
	case dispatch.KindUnsupportedLanguagePair:
		return http.StatusUnprocessableEntity
	case dispatch.KindAllProvidersUnavailable, dispatch.KindQuotaExceeded:
		return http.StatusServiceUnavailable
	case dispatch.KindTimeout, dispatch.KindProviderTimeout:
		return http.StatusGatewayTimeout
	case dispatch.KindProviderInvocationFailed:
		return http.StatusBadGateway
	case dispatch.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeConversionError(w http.ResponseWriter, err error) {
	var ce *dispatch.ConversionError
	if !errors.As(err, &ce) {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	code := statusFor(ce.Kind)
	detail := errorDetail{Message: ce.Error(), Type: string(ce.Kind), Code: code}
	for _, a := range ce.Attempts {
		ad := attemptDetail{Provider: a.Provider, Outcome: string(a.Outcome)}
		if a.Err != nil {
			ad.Error = a.Err.Error()
		}
		detail.Attempts = append(detail.Attempts, ad)
	}
	writeJSON(w, code, errorBody{Error: detail})
}

func writeJSONError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, errorBody{Error: errorDetail{Message: message, Type: kind, Code: code}})
}
