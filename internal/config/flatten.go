package config

import (
	"strings"
)

// secretKeys are dot keys whose values are masked in listings. The Bitrix
// webhook URL carries its access token in the path.
var secretKeys = map[string]bool{
	"llm.api_key":           true,
	"transcription.api_key": true,
	"telegram.token":        true,
	"bitrix.webhook_url":    true,
}

// IsSecretKey reports whether key names a secret.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns nested JSON objects into dot keys:
// {"recording": {"input": "x"}} becomes {"recording.input": "x"}.
// Arrays are leaf values. Empty objects produce no keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A leaf that collides with a deeper
// key is replaced by an object.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		node := out
		parts := strings.Split(key, ".")
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets returns a copy of flat with non-empty secret strings reduced to
// "***" plus their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		s, isString := v.(string)
		if !secretKeys[k] || !isString || s == "" {
			out[k] = v
			continue
		}
		out[k] = "***" + s[max(0, len(s)-4):]
	}
	return out
}

// knownSection reports whether the first segment of key is a top-level
// config field, so typos are rejected before they reach the file.
func knownSection(key string) bool {
	m, err := ToMap(Default())
	if err != nil {
		return false
	}
	section, _, _ := strings.Cut(key, ".")
	_, ok := m[section]
	return ok
}
