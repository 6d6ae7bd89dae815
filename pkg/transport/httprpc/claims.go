package httprpc

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shazaibn/nanobus/pkg/domain"
)

// claimsFromRequest extracts bus claims from the request's bearer token.
// Without a configured secret the transport runs open: tokens are ignored
// and the invocation is unauthenticated. With a secret, a present token must
// verify; a missing token still yields an unauthenticated invocation, and
// the authorization table decides whether that is acceptable per route.
func (s *Server) claimsFromRequest(r *http.Request) (domain.Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}

	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, fmt.Errorf("authorization header is not a bearer token")
	}

	if s.secret == "" {
		return nil, nil
	}

	parsed := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, parsed, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return []byte(s.secret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, fmt.Errorf("verify bearer token: %w", err)
	}

	return domain.Claims(parsed), nil
}
