package executor

import "strconv"

// paramString/paramInt/paramStringSlice mirror pkg/pipeline/params.go's
// dynamic-param readers; duplicated here (rather than exported from
// pipeline) because the executor reads the same deployment-params map
// for an unrelated set of keys and shouldn't depend on the pipeline
// package's internals to do it.

func paramString(m map[string]interface{}, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func paramInt(m map[string]interface{}, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func paramStringSlice(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

func applicationPropertyInt(props map[string]string, key string, def int) int {
	v, ok := props[key]
	if !ok {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return def
}

func applicationPropertyString(props map[string]string, key, def string) string {
	if v, ok := props[key]; ok && v != "" {
		return v
	}
	return def
}
