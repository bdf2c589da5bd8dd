package common

import "strings"

// RedactionSentinel replaces values that must never reach a log sink
const RedactionSentinel = "[REDACTED]"

// secretKeyDenylist matches payload keys that carry signing or key material;
// matching is case-insensitive on substrings
var secretKeyDenylist = []string{
	"seed",
	"secret",
	"private_key",
	"privatekey",
	"password",
	"passphrase",
	"master_key",
	"masterkey",
	"mnemonic",
}

// Redact returns a copy of the given payload with denylisted keys and
// seed-shaped values replaced by the redaction sentinel; nested maps are
// traversed. Safe for structured log emission.
func Redact(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}

	redacted := make(map[string]interface{}, len(params))
	for key, val := range params {
		if denylistedKey(key) {
			redacted[key] = RedactionSentinel
			continue
		}

		switch typed := val.(type) {
		case string:
			if seedShaped(typed) {
				redacted[key] = RedactionSentinel
			} else {
				redacted[key] = typed
			}
		case map[string]interface{}:
			redacted[key] = Redact(typed)
		default:
			redacted[key] = val
		}
	}

	return redacted
}

func denylistedKey(key string) bool {
	k := strings.ToLower(key)
	for _, denied := range secretKeyDenylist {
		if strings.Contains(k, denied) {
			return true
		}
	}
	return false
}

// seedShaped reports whether the value resembles a ledger seed; seeds are
// base58 strings longer than 20 chars starting with 's'
func seedShaped(val string) bool {
	return len(val) > 20 && strings.HasPrefix(val, "s")
}
