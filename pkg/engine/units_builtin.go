package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shazaibn/nanobus/pkg/engine/runtime"
)

// UnitRegistry maps `uses` identifiers to computation units. It is populated
// at startup and read-only afterwards.
type UnitRegistry struct {
	units map[string]runtime.Unit
}

// NewUnitRegistry returns an empty unit registry.
func NewUnitRegistry() *UnitRegistry {
	return &UnitRegistry{units: make(map[string]runtime.Unit)}
}

// Register binds a unit to a name. Rebinding a name is a wiring bug and
// fails loudly.
func (u *UnitRegistry) Register(name string, unit runtime.Unit) error {
	if name == "" {
		return fmt.Errorf("unit name is required")
	}
	if unit == nil {
		return fmt.Errorf("unit %q is nil", name)
	}
	if _, exists := u.units[name]; exists {
		return fmt.Errorf("unit %q already registered", name)
	}
	u.units[name] = unit
	return nil
}

// Resolve looks up a unit by name.
func (u *UnitRegistry) Resolve(name string) (runtime.Unit, bool) {
	unit, ok := u.units[name]
	return unit, ok
}

// RegisterBuiltins installs the in-core units: expr, log, and http.
func (u *UnitRegistry) RegisterBuiltins(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	// Registering over a caller-supplied unit of the same name is the only
	// way these can fail, and that is a startup wiring bug.
	mustRegister := func(name string, unit runtime.Unit) {
		if err := u.Register(name, unit); err != nil {
			panic("engine: " + err.Error())
		}
	}

	mustRegister("expr", runtime.UnitFunc(exprUnit))
	mustRegister("log", &logUnit{logger: logger})
	mustRegister("http", &httpUnit{client: &http.Client{
		Timeout:   defaultEgressTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}})
}

// exprUnit is the in-core expression unit. Its configured value has already
// been evaluated by the executor's binding resolution, so invoking it just
// returns the resolved value.
func exprUnit(_ context.Context, config map[string]any) (any, error) {
	return config["value"], nil
}

// logUnit emits its message through the structured logger and passes the
// message through as its output.
type logUnit struct {
	logger *slog.Logger
}

func (l *logUnit) Invoke(ctx context.Context, config map[string]any) (any, error) {
	message := config["message"]

	level := slog.LevelInfo
	if text, ok := config["level"].(string); ok {
		switch strings.ToLower(text) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	l.logger.Log(ctx, level, fmt.Sprint(message))
	return message, nil
}

const defaultEgressTimeout = 60 * time.Second

// httpUnit performs a JSON egress call. Configuration: url (required),
// method (defaults to GET, or POST when a body is set), body, headers.
type httpUnit struct {
	client *http.Client
}

func (h *httpUnit) Invoke(ctx context.Context, config map[string]any) (any, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("http unit: url is required")
	}

	var body io.Reader
	hasBody := false
	if raw, ok := config["body"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("http unit: encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
		hasBody = true
	}

	method := http.MethodGet
	if hasBody {
		method = http.MethodPost
	}
	if text, ok := config["method"].(string); ok && text != "" {
		method = strings.ToUpper(text)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("http unit: build request: %w", err)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := config["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprint(value))
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http unit: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("http unit: read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("http unit: %s %s returned %d", method, url, resp.StatusCode)
	}

	if len(payload) == 0 {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		// Non-JSON responses pass through as text.
		return string(payload), nil
	}
	return decoded, nil
}
