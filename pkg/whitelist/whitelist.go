// Package whitelist implements the executor's configuration-driven command
// allowlist: security modes, hot-reloadable snapshots, and the immutable
// baseline of forbidden patterns (spec.md §3 "Whitelist", §4.4).
//
// The validation shape here is grounded on
// vellankikoti-kubilitics-os-emergent/kubilitics-backend's
// internal/api/rest/kcli_policy.go (verb allowlist + blocked-flag scan over
// a sanitized argument list); the three-mode security model and immutable
// baseline are spec.md's own design.
package whitelist

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Mode selects the default allowed-verb set (spec.md §3 "Whitelist").
type Mode string

const (
	ModeReadOnly         Mode = "readOnly"
	ModeExtendedReadOnly Mode = "extendedReadOnly"
	ModeFullAccess       Mode = "fullAccess"
)

// ModeDefaults maps each mode to its default allowed verbs (spec.md §4.4).
var ModeDefaults = map[Mode][]string{
	ModeReadOnly: {
		"get", "describe", "logs", "top", "events", "version", "api-resources", "api-versions", "explain",
	},
	ModeExtendedReadOnly: {
		"get", "describe", "logs", "top", "events", "version", "api-resources", "api-versions", "explain",
		"exec", "port-forward", "cp",
	},
	ModeFullAccess: {
		"get", "describe", "logs", "top", "events", "version", "api-resources", "api-versions", "explain",
		"exec", "port-forward", "cp",
		"rollout", "patch", "scale", "annotate", "label",
	},
}

// baselineForbiddenPatterns is the immutable set of substrings/flags no mode
// or custom configuration can ever permit (spec.md §4.4).
var baselineForbiddenPatterns = []string{
	"--token", "--kubeconfig", "--server", "--insecure", "--as", "--as-group",
	"exec", "delete", "edit", "apply", "create", "patch", "replace", "scale", "rollout",
	"&&", "||", ";", "|", "`", "$(",
	"/etc/kubernetes", "/root",
}

// baselineAllowedWithFullAccess lists verbs that appear in
// baselineForbiddenPatterns but are legitimate verbs once fullAccess has
// been explicitly acknowledged (spec.md: "outside fullAccess").
var baselineAllowedWithFullAccess = map[string]struct{}{
	"patch": {}, "scale": {}, "rollout": {},
}

// baselineAllowedWithExtendedReadOnly lists verbs that appear in
// baselineForbiddenPatterns but are part of extendedReadOnly's explicit
// allowlist (spec.md §4.4: extendedReadOnly adds "exec", "port-forward",
// "cp" on top of readOnly).
var baselineAllowedWithExtendedReadOnly = map[string]struct{}{
	"exec": {},
}

const (
	// DefaultMaxArguments bounds the number of argument tokens per command.
	DefaultMaxArguments = 20
	// DefaultTimeoutSeconds is the Snapshot.TimeoutSeconds used when the
	// config leaves timeoutSeconds unset. The executor's runner times a
	// command by its own TimeoutSeconds (command.NormalizeTimeout), not by
	// this value.
	DefaultTimeoutSeconds = 30
	// MaxTimeoutSeconds is the hard cap regardless of request (spec.md §4.4).
	MaxTimeoutSeconds = 30
	// DefaultReloadIntervalSeconds is how often the config file is re-read.
	DefaultReloadIntervalSeconds = 30
)

// Config is the executor's whitelist configuration as read from the mounted
// file (spec.md §6 "Executor configuration").
type Config struct {
	Mode                  Mode     `json:"securityMode"`
	FullAccessAcknowledged bool    `json:"fullAccessAcknowledged"`
	CustomVerbs           []string `json:"customVerbs"`
	ExtraFlags            []string `json:"extraFlags"`
	ExtraForbiddenPatterns []string `json:"extraForbiddenPatterns"`
	MaxArguments          int      `json:"maxArguments"`
	TimeoutSeconds        int      `json:"timeoutSeconds"`
}

// Snapshot is the atomic, immutable configuration value readers validate
// against (spec.md §9 "Hot-reloadable configuration").
type Snapshot struct {
	Mode              Mode
	AllowedVerbs       map[string]struct{}
	ExtraFlags        map[string]struct{}
	ForbiddenPatterns []string
	MaxArguments      int
	TimeoutSeconds    int
}

// Validate checks structural invariants on a raw Config before it may become
// a Snapshot: mode must be known, fullAccess requires explicit
// acknowledgment, and the baseline cannot be weakened (spec.md §4.4).
func (c Config) Validate() error {
	switch c.Mode {
	case ModeReadOnly, ModeExtendedReadOnly:
	case ModeFullAccess:
		if !c.FullAccessAcknowledged {
			return fmt.Errorf("fullAccess mode requires fullAccessAcknowledged=true")
		}
	case "":
		return fmt.Errorf("securityMode is required")
	default:
		return fmt.Errorf("unknown securityMode %q", c.Mode)
	}

	if c.MaxArguments < 0 || c.MaxArguments > 100 {
		return fmt.Errorf("maxArguments must be in [1,100], got %d", c.MaxArguments)
	}
	if c.TimeoutSeconds < 0 || c.TimeoutSeconds > MaxTimeoutSeconds {
		return fmt.Errorf("timeoutSeconds must be in [1,%d], got %d", MaxTimeoutSeconds, c.TimeoutSeconds)
	}
	return nil
}

// ToSnapshot builds an immutable Snapshot from a validated Config. The
// immutable baseline is always included, regardless of what the config
// requests (spec.md: "The immutable baseline is enforced regardless of
// config").
func (c Config) ToSnapshot() Snapshot {
	mode := c.Mode
	if mode == "" {
		mode = ModeReadOnly
	}

	allowed := make(map[string]struct{})
	for _, v := range ModeDefaults[mode] {
		allowed[strings.ToLower(v)] = struct{}{}
	}
	for _, v := range c.CustomVerbs {
		allowed[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}

	extraFlags := make(map[string]struct{}, len(c.ExtraFlags))
	for _, f := range c.ExtraFlags {
		extraFlags[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
	}

	forbidden := make([]string, len(baselineForbiddenPatterns))
	copy(forbidden, baselineForbiddenPatterns)
	forbidden = append(forbidden, c.ExtraForbiddenPatterns...)

	maxArgs := c.MaxArguments
	if maxArgs <= 0 {
		maxArgs = DefaultMaxArguments
	}
	timeout := c.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	if timeout > MaxTimeoutSeconds {
		timeout = MaxTimeoutSeconds
	}

	return Snapshot{
		Mode:              mode,
		AllowedVerbs:       allowed,
		ExtraFlags:        extraFlags,
		ForbiddenPatterns: forbidden,
		MaxArguments:      maxArgs,
		TimeoutSeconds:    timeout,
	}
}

// LoadFile reads and validates a whitelist Config from a JSON file on disk.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading whitelist file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing whitelist file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid whitelist config in %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultSnapshot returns the readOnly-mode snapshot used before any
// mounted config has been successfully loaded.
func DefaultSnapshot() Snapshot {
	return Config{Mode: ModeReadOnly, MaxArguments: DefaultMaxArguments, TimeoutSeconds: DefaultTimeoutSeconds}.ToSnapshot()
}
