package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

func stringArg(params map[string]interface{}, name string) string {
	v, ok := params[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func requireString(params map[string]interface{}, name string) (string, error) {
	s := strings.TrimSpace(stringArg(params, name))
	if s == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return s, nil
}

// intArg accepts the numeric shapes different backends produce for integers.
func intArg(params map[string]interface{}, name string, def int) int {
	switch v := params[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func boolArg(params map[string]interface{}, name string) bool {
	switch v := params[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func truncate(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	cut := max
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut], true
}
