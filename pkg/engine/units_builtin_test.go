package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprUnit_ReturnsResolvedValue(t *testing.T) {
	units := testUnits(t)
	unit, ok := units.Resolve("expr")
	require.True(t, ok)

	result, err := unit.Invoke(context.Background(), map[string]any{"value": "resolved"})
	require.NoError(t, err)
	assert.Equal(t, "resolved", result)
}

func TestLogUnit_PassesMessageThrough(t *testing.T) {
	units := testUnits(t)
	unit, ok := units.Resolve("log")
	require.True(t, ok)

	result, err := unit.Invoke(context.Background(), map[string]any{
		"message": "processing order",
		"level":   "debug",
	})
	require.NoError(t, err)
	assert.Equal(t, "processing order", result)
}

func TestHTTPUnit(t *testing.T) {
	var gotMethod, gotContentType string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "order-1"})
	}))
	defer server.Close()

	units := testUnits(t)
	unit, ok := units.Resolve("http")
	require.True(t, ok)

	result, err := unit.Invoke(context.Background(), map[string]any{
		"url":  server.URL,
		"body": map[string]any{"sku": "widget"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod, "a body implies POST")
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, map[string]any{"sku": "widget"}, gotBody)
	assert.Equal(t, map[string]any{"id": "order-1"}, result)
}

func TestHTTPUnit_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	units := testUnits(t)
	unit, _ := units.Resolve("http")

	_, err := unit.Invoke(context.Background(), map[string]any{"url": server.URL})
	require.Error(t, err)
}

func TestHTTPUnit_RequiresURL(t *testing.T) {
	units := testUnits(t)
	unit, _ := units.Resolve("http")

	_, err := unit.Invoke(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestHTTPUnit_NonJSONBodyPassesAsText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer server.Close()

	units := testUnits(t)
	unit, _ := units.Resolve("http")

	result, err := unit.Invoke(context.Background(), map[string]any{"url": server.URL})
	require.NoError(t, err)
	assert.Equal(t, "plain text", result)
}
