package domain

import "strings"

// Claims is the opaque identity attached to an invocation. The engine never
// inspects it; only the authorization gate reads individual entries.
type Claims map[string]any

// Has reports whether the named claim is present with a non-nil value.
func (c Claims) Has(name string) bool {
	if c == nil {
		return false
	}
	value, ok := c[name]
	return ok && value != nil
}

// Permissions collects the caller's permission strings from the conventional
// claim keys: "permissions" and "roles" (list or single string) plus the
// OAuth-style space-separated "scope".
func (c Claims) Permissions() []string {
	if c == nil {
		return nil
	}

	var perms []string
	for _, key := range []string{"permissions", "roles"} {
		perms = appendClaimStrings(perms, c[key])
	}

	if scope, ok := c["scope"].(string); ok {
		for _, s := range strings.Fields(scope) {
			perms = append(perms, s)
		}
	}

	return perms
}

func appendClaimStrings(dst []string, value any) []string {
	switch v := value.(type) {
	case string:
		if v != "" {
			dst = append(dst, v)
		}
	case []string:
		dst = append(dst, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				dst = append(dst, s)
			}
		}
	}
	return dst
}

// RouteKey joins an interface and method into the canonical lookup key used
// by the registry and the authorization table.
func RouteKey(interfaceName, methodName string) string {
	return interfaceName + "::" + methodName
}
