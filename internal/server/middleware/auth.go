package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChiefWoods/prediction/internal/crypto"
	"github.com/ChiefWoods/prediction/internal/domain"
)

// MaxBodyBytes caps request bodies read for signature checks.
const MaxBodyBytes = 1 << 20

type callerKey struct{}

// CallerFrom returns the identity authenticated by Signature.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// WithCaller stores caller in ctx.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Signature authenticates the request by its EIP-191 signature headers and
// stores the recovered caller in the request context. The body is buffered
// and handed to the next handler unchanged.
//
// Each accepted signature is claimed in seen for twice the allowed skew, so a
// captured request cannot be sent again while its timestamp is still valid.
// A nil seen disables the replay check.
func Signature(maxSkew time.Duration, clock domain.Clock, seen domain.LockManager) func(http.Handler) http.Handler {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
			if err != nil {
				writeUnauthorized(w, "unreadable request body", "bad_request")
				return
			}
			if len(body) > MaxBodyBytes {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large", "bad_request")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			caller, err := crypto.VerifyRequest(r, body, clock.Now(), maxSkew)
			if err != nil {
				writeUnauthorized(w, err.Error(), signatureCode(err))
				return
			}
			if seen != nil {
				id, err := crypto.SignatureID(r.Header.Get(crypto.HeaderSignature))
				if err != nil {
					writeUnauthorized(w, err.Error(), "bad_signature")
					return
				}
				if _, err := seen.Acquire(r.Context(), "sig:"+id.Hex(), 2*maxSkew); err != nil {
					if errors.Is(err, domain.ErrLockHeld) {
						writeUnauthorized(w, "request signature already used", "replayed_signature")
						return
					}
					writeJSONError(w, http.StatusServiceUnavailable, "replay check unavailable", "unavailable")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func signatureCode(err error) string {
	switch {
	case errors.Is(err, crypto.ErrMissingSignature):
		return "missing_signature"
	case errors.Is(err, crypto.ErrExpiredSignature):
		return "expired_signature"
	default:
		return "bad_signature"
	}
}

// APIKey guards admin routes with a static key sent as a Bearer token or in
// X-API-Key. An empty configured key rejects every request.
func APIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token", "unauthorized")
				return
			}
			if !crypto.APIKeyMatches(apiKey, token) {
				writeUnauthorized(w, "invalid authentication token", "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken reads a Bearer token or the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeUnauthorized(w http.ResponseWriter, msg, code string) {
	writeJSONError(w, http.StatusUnauthorized, msg, code)
}
