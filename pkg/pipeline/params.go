package pipeline

// defaults is the table populate-defaults overlays onto a deployment's
// params (spec.md §4.3 step 7). Values absent from params take the
// default; values already present are left alone.
var defaults = map[string]interface{}{
	"default-cooldown":                    10,
	"desired-capacity":                    1,
	"health-check-grace-period":           600,
	"health-check-type":                   "EC2",
	"instance-healthy-attempts":           50,
	"instance-type":                       "t1.micro",
	"load-balancer-healthy-attempts":      50,
	"max":                                 1,
	"min":                                 1,
	"pause-after-instances-healthy":       false,
	"pause-after-load-balancers-healthy":  false,
	"selected-zones":                      []string{"a", "b"},
	"subnet-purpose":                      "internal",
	"termination-policy":                  "Default",
}

func paramString(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func paramInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func paramBool(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

// paramStringSlice coerces a param to a string slice per spec.md §4.3
// step 7's coercion rule: a single string becomes a one-element slice,
// nil is dropped (returns nil), an existing slice passes through.
func paramStringSlice(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// paramMapSlice reads a list-of-maps param (extra-block-devices).
func paramMapSlice(m map[string]interface{}, key string) []map[string]interface{} {
	v, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(v))
	for _, e := range v {
		if mm, ok := e.(map[string]interface{}); ok {
			out = append(out, mm)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
