package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/travel-ledger/booking"
)

// IdentityHeader carries the caller identity when no JWT secret is set,
// e.g. behind a gateway that already authenticated the caller.
const IdentityHeader = "X-Caller-Identity"

type (
	identityKey struct{}
	adminKey    struct{}
)

// callerFrom returns the identity resolved by the identity middleware.
func callerFrom(ctx context.Context) booking.Identity {
	id, _ := ctx.Value(identityKey{}).(booking.Identity)
	return id
}

// Identity resolves the caller of every request. With a secret, the caller
// is the subject of an HS256 bearer token and requests without a valid
// token are rejected; without one, it is the IdentityHeader value. A
// missing identity is left for the engine to reject.
func Identity(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id booking.Identity
			if len(secret) == 0 {
				id = booking.Identity(strings.TrimSpace(r.Header.Get(IdentityHeader)))
			} else if auth := r.Header.Get("Authorization"); auth != "" {
				sub, err := subjectOf(auth, secret)
				if err != nil {
					writeJSON(w, http.StatusUnauthorized, ErrorResponse{
						Error: "invalid bearer token", Code: "UNAUTHENTICATED", Details: err.Error(),
					})
					return
				}
				id = booking.Identity(sub)
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
		})
	}
}

func subjectOf(header string, secret []byte) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("authorization header is not a bearer token")
	}
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// Admins marks callers in admins, and SchedulerIdentity, as administrators.
// It must run after Identity.
func Admins(admins []booking.Identity) func(http.Handler) http.Handler {
	set := map[booking.Identity]bool{SchedulerIdentity: true}
	for _, a := range admins {
		if a != "" {
			set[a] = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := callerFrom(r.Context()); id != "" && set[id] {
				r = r.WithContext(context.WithValue(r.Context(), adminKey{}, true))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isAdmin(ctx context.Context) bool {
	ok, _ := ctx.Value(adminKey{}).(bool)
	return ok
}

// RequireAdmin rejects callers that Admins did not mark.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(r.Context()) {
			writeJSON(w, http.StatusForbidden, ErrorResponse{
				Error: "admin access required", Code: "NOT_AUTHORIZED",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
