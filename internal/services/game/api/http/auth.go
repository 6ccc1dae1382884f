package httpapi

import (
	"net/http"

	apperrors "github.com/louisbranch/robotbattle/internal/platform/errors"
	"github.com/louisbranch/robotbattle/internal/platform/requestctx"
)

// authenticated resolves the credential and checks it belongs to the game in
// the path before calling next.
func (s *server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, err := s.Identity.Resolve(r.Context(), r.Header.Get(APIKeyHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if who.GameID != r.PathValue("id") {
			writeError(w, r, apperrors.New(apperrors.CodeCredentialMismatch, "credential belongs to another game"))
			return
		}
		next(w, r.WithContext(requestctx.WithPlayer(r.Context(), who.PlayerID, who.GameID)))
	})
}
