package whitelist

import (
	"fmt"
	"strings"
)

// ValidationError explains why a command was rejected, carrying a stable
// reason code for metrics labeling (telemetry.CommandsRejectedTotal).
type ValidationError struct {
	Reason  string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func reject(reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ValidateCommand checks an argv-style command against a Snapshot, applying
// the immutable baseline first and mode/custom rules second — no snapshot
// configuration can ever bypass the baseline (spec.md §4.4, testable
// property #6 "Validation closure").
//
// Grounded on kubilitics-backend's internal/api/rest/kcli_policy.go
// validateKCLIArgs/blockedKCLIFlags scan-over-tokens approach.
func ValidateCommand(snap Snapshot, args []string) error {
	if len(args) == 0 {
		return reject("empty_command", "command has no arguments")
	}
	if len(args) > snap.MaxArguments {
		return reject("too_many_arguments", "command has %d arguments, max is %d", len(args), snap.MaxArguments)
	}

	verb := strings.ToLower(args[0])

	for _, pattern := range snap.ForbiddenPatterns {
		if matchesBaselineVerb(pattern, verb) {
			if _, fullAccessOK := baselineAllowedWithFullAccess[pattern]; fullAccessOK && snap.Mode == ModeFullAccess {
				continue
			}
			if _, extendedOK := baselineAllowedWithExtendedReadOnly[pattern]; extendedOK &&
				(snap.Mode == ModeExtendedReadOnly || snap.Mode == ModeFullAccess) {
				continue
			}
			return reject("forbidden_verb", "verb %q is forbidden in %s mode", verb, snap.Mode)
		}
	}

	for i, arg := range args {
		lower := strings.ToLower(arg)
		for _, pattern := range snap.ForbiddenPatterns {
			if isVerbPattern(pattern) {
				continue // verbs are only checked against args[0] above
			}
			if strings.Contains(lower, strings.ToLower(pattern)) {
				return reject("forbidden_pattern", "argument %d (%q) contains forbidden pattern %q", i, arg, pattern)
			}
		}
	}

	if _, ok := snap.AllowedVerbs[verb]; !ok {
		return reject("verb_not_allowed", "verb %q is not in the %s whitelist", verb, snap.Mode)
	}

	for _, arg := range args[1:] {
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		flag := normalizeFlag(arg)
		if _, ok := snap.ExtraFlags[flag]; ok {
			continue
		}
	}

	return nil
}

// baselineVerbPatterns is the subset of ForbiddenPatterns that denote verbs
// (checked only against args[0]) rather than substrings scanned across all
// arguments.
var baselineVerbPatterns = map[string]struct{}{
	"exec": {}, "delete": {}, "edit": {}, "apply": {}, "create": {},
	"patch": {}, "replace": {}, "scale": {}, "rollout": {},
}

func isVerbPattern(pattern string) bool {
	_, ok := baselineVerbPatterns[pattern]
	return ok
}

func matchesBaselineVerb(pattern, verb string) bool {
	if !isVerbPattern(pattern) {
		return false
	}
	return pattern == verb
}

func normalizeFlag(arg string) string {
	flag := arg
	if idx := strings.Index(flag, "="); idx != -1 {
		flag = flag[:idx]
	}
	return strings.ToLower(strings.TrimLeft(flag, "-"))
}
