package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/louisbranch/robotbattle/internal/platform/errors"
	"github.com/louisbranch/robotbattle/internal/platform/errors/i18n"
	"github.com/louisbranch/robotbattle/internal/platform/httpx"
)

// writeError renders err with a localized message and the status of its code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, locale, body := describeError(r, err)
	w.Header().Set("Content-Language", locale)
	_ = httpx.WriteJSON(w, status, errorResponse{Error: body})
}

// describeError logs err and localizes it for the request's Accept-Language.
func describeError(r *http.Request, err error) (int, string, errorBody) {
	code := apperrors.CodeOf(err)
	var metadata map[string]string
	if domainErr, ok := apperrors.As(err); ok {
		metadata = domainErr.Metadata
	}
	status := code.HTTPStatus()
	event := log.Debug()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Str("code", string(code)).Str("path", r.URL.Path).
		Str("requestId", r.Header.Get(httpx.RequestIDHeader)).Msg("request failed")

	locale := i18n.Negotiate(r.Header.Get("Accept-Language"))
	message := i18n.GetCatalog(locale).Format(string(code), metadata)
	return status, locale, errorBody{Code: string(code), Message: message}
}

func invalidRequest(err error) error {
	return apperrors.Wrap(apperrors.CodeInvalidRequest, "invalid request body", err)
}
