package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type kindedError struct {
	kind FailureKind
}

func (e *kindedError) Error() string { return "kinded" }

func (e *kindedError) FailureKind() FailureKind { return e.kind }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "route not found sentinel", err: fmt.Errorf("lookup: %w", ErrRouteNotFound), want: KindRouteNotFound},
		{name: "permission denied sentinel", err: fmt.Errorf("gate: %w", ErrPermissionDenied), want: KindPermissionDenied},
		{name: "cancellation", err: fmt.Errorf("wait: %w", context.Canceled), want: KindCancelled},
		{name: "deadline", err: context.DeadlineExceeded, want: KindCancelled},
		{name: "kinder wins", err: fmt.Errorf("wrap: %w", &kindedError{kind: KindEvalError}), want: KindEvalError},
		{name: "opaque", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusOf(""))
	assert.Equal(t, http.StatusNotFound, StatusOf(KindRouteNotFound))
	assert.Equal(t, http.StatusForbidden, StatusOf(KindPermissionDenied))
	assert.Equal(t, http.StatusBadRequest, StatusOf(KindParseError))
	assert.Equal(t, http.StatusBadRequest, StatusOf(KindEvalError))
	assert.Equal(t, http.StatusRequestTimeout, StatusOf(KindCancelled))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(KindStepFailed))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(KindInternal))
}

func TestClaims(t *testing.T) {
	claims := Claims{
		"sub":         "user-1",
		"permissions": []any{"orders.read", "orders.write"},
		"roles":       "admin",
		"scope":       "profile email",
		"empty":       nil,
	}

	assert.True(t, claims.Has("sub"))
	assert.False(t, claims.Has("empty"))
	assert.False(t, claims.Has("missing"))
	assert.False(t, Claims(nil).Has("sub"))

	perms := claims.Permissions()
	assert.ElementsMatch(t, []string{"orders.read", "orders.write", "admin", "profile", "email"}, perms)
	assert.Nil(t, Claims(nil).Permissions())
}

func TestRouteKey(t *testing.T) {
	assert.Equal(t, "greeter::say_hello", RouteKey("greeter", "say_hello"))
	assert.NotEqual(t, RouteKey("greeter", "say_hello"), RouteKey("greeter", "say_goodbye"))
}
