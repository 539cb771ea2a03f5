package auth

import (
	"crypto/subtle"
	"strings"
)

// apiKeyEntry is one parsed entry from the API_KEYS configuration value,
// of the form "identity:key" or bare "key" (spec.md §4.1 "API key").
type apiKeyEntry struct {
	identity string
	key      string
}

// APIKeyAuthenticator validates inbound API keys against the static set
// loaded once from configuration at process start (spec.md §10
// "Module-level state").
type APIKeyAuthenticator struct {
	entries []apiKeyEntry
}

// NewAPIKeyAuthenticator parses the configured API_KEYS entries.
func NewAPIKeyAuthenticator(raw []string) *APIKeyAuthenticator {
	a := &APIKeyAuthenticator{}
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if idx := strings.IndexByte(entry, ':'); idx >= 0 {
			a.entries = append(a.entries, apiKeyEntry{identity: entry[:idx], key: entry[idx+1:]})
		} else {
			a.entries = append(a.entries, apiKeyEntry{identity: "api-key-user", key: entry})
		}
	}
	return a
}

// Authenticate compares rawKey against every configured key using
// constant-time equality, independent of how many keys are configured or
// which one (if any) matches (spec.md testable property #8).
func (a *APIKeyAuthenticator) Authenticate(rawKey string) (identity string, ok bool) {
	if rawKey == "" {
		return "", false
	}

	matchedIdentity := ""
	matched := 0
	for _, e := range a.entries {
		if subtle.ConstantTimeCompare([]byte(e.key), []byte(rawKey)) == 1 {
			matched = 1
			matchedIdentity = e.identity
		}
	}
	if matched == 1 {
		return matchedIdentity, true
	}
	return "", false
}
