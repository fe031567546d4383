package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

type fieldAction int

const (
	keep fieldAction = iota
	mask
	digest
)

const masked = "[REDACTED]"

// Key fragments checked in order; the first match decides.
var fieldRules = []struct {
	frag   string
	action fieldAction
}{
	{"token", mask},
	{"authorization", mask},
	{"password", mask},
	{"secret", mask},
	{"api_key", mask},
	{"apikey", mask},
	{"credentials", mask},
	{"dsn", mask},
	// Locators can embed signed URLs; hashing keeps lines correlatable.
	{"source_locator", digest},
	{"client_ip", digest},
}

// redactor scrubs structured log fields. A nil redactor passes fields through.
type redactor struct {
	salt string
}

func redactorFromEnv() *redactor {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_REDACTION_ENABLED"))) {
	case "0", "false", "no", "off":
		return nil
	}
	return &redactor{salt: strings.TrimSpace(os.Getenv("LOG_HASH_SALT"))}
}

func (r *redactor) fields(kv []interface{}) []interface{} {
	if r == nil || len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, len(kv))
	copy(out, kv)
	for i := 0; i+1 < len(out); i += 2 {
		key := stringify(out[i])
		out[i] = key
		out[i+1] = r.value(key, out[i+1])
	}
	return out
}

func (r *redactor) value(key string, v interface{}) interface{} {
	switch classify(key) {
	case mask:
		return masked
	case digest:
		return r.hash(v)
	}
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(t)), "bearer ") {
			return masked
		}
	case map[string]interface{}:
		nested := make(map[string]interface{}, len(t))
		for k, inner := range t {
			nested[k] = r.value(k, inner)
		}
		return nested
	}
	return v
}

func (r *redactor) hash(v interface{}) string {
	raw := stringify(v)
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(r.salt + raw))
	return "hash:" + hex.EncodeToString(sum[:6])
}

func classify(key string) fieldAction {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return keep
	}
	for _, rule := range fieldRules {
		if strings.Contains(k, rule.frag) {
			return rule.action
		}
	}
	return keep
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
