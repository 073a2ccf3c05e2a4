package access

import (
	"net/http"

	"github.com/relabs-tech/modelapi/core"
	"github.com/relabs-tech/modelapi/core/entity"
	"github.com/relabs-tech/modelapi/core/logger"
)

// Class separates read access from write access. GET and HEAD are reads,
// everything else is a write.
type Class int

const (
	ClassRead Class = iota
	ClassWrite
)

// ClassOf returns the access class of an HTTP method.
func ClassOf(method string) Class {
	switch method {
	case http.MethodGet, http.MethodHead:
		return ClassRead
	default:
		return ClassWrite
	}
}

// Protect wraps a handler with bearer-token authorization for the given
// entity. Public access classes bypass verification entirely, even when
// the request carries a malformed token. Otherwise a missing or invalid
// token yields 401 and unmet role requirements yield 403. The verified
// token is stored in the request context for downstream ownership
// scoping.
func Protect(decl *entity.Declaration, v *Verifier, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		public := (decl.PublicWrite && ClassOf(r.Method) == ClassWrite) ||
			(decl.PublicRead && ClassOf(r.Method) == ClassRead)
		if public {
			h(w, r)
			return
		}

		tokenString := BearerToken(r)
		if tokenString == "" {
			core.WriteError(w, core.APIError{
				Status:  http.StatusUnauthorized,
				Code:    "credentials_required",
				Message: "authorization token missing",
			})
			return
		}
		token, err := v.Verify(tokenString)
		if err != nil {
			logger.FromContext(r.Context()).Infof("rejected token for %s: %v", decl.Name, err)
			core.WriteError(w, core.APIError{
				Status:  http.StatusUnauthorized,
				Code:    "invalid_token",
				Message: "authorization token is not valid",
			})
			return
		}
		if len(decl.Roles) > 0 && !token.HasAllRoles(decl.Roles) {
			core.WriteError(w, core.APIError{
				Status:  http.StatusForbidden,
				Code:    "insufficient_roles",
				Message: "insufficient roles for " + decl.Name,
			})
			return
		}
		ctx := ContextWithToken(r.Context(), token)
		ctx, _ = logger.ContextWithLoggerIdentity(ctx, token.Subject)
		h(w, r.WithContext(ctx))
	}
}
