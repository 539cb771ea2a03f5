package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	t.Run("rejects missing mode", func(t *testing.T) {
		c := Config{}
		assert.Error(t, c.Validate())
	})

	t.Run("rejects fullAccess without acknowledgment", func(t *testing.T) {
		c := Config{Mode: ModeFullAccess}
		assert.Error(t, c.Validate())
	})

	t.Run("accepts fullAccess with acknowledgment", func(t *testing.T) {
		c := Config{Mode: ModeFullAccess, FullAccessAcknowledged: true}
		assert.NoError(t, c.Validate())
	})

	t.Run("rejects timeout above cap", func(t *testing.T) {
		c := Config{Mode: ModeReadOnly, TimeoutSeconds: MaxTimeoutSeconds + 1}
		assert.Error(t, c.Validate())
	})
}

func TestToSnapshotIncludesBaseline(t *testing.T) {
	snap := Config{Mode: ModeFullAccess, FullAccessAcknowledged: true}.ToSnapshot()

	for _, pattern := range baselineForbiddenPatterns {
		assert.Contains(t, snap.ForbiddenPatterns, pattern)
	}
}

func TestToSnapshotDefaults(t *testing.T) {
	snap := Config{Mode: ModeReadOnly}.ToSnapshot()

	assert.Equal(t, DefaultMaxArguments, snap.MaxArguments)
	assert.Equal(t, DefaultTimeoutSeconds, snap.TimeoutSeconds)
	assert.Contains(t, snap.AllowedVerbs, "get")
	assert.NotContains(t, snap.AllowedVerbs, "exec")
}

func TestValidateCommand(t *testing.T) {
	readOnly := Config{Mode: ModeReadOnly}.ToSnapshot()
	extended := Config{Mode: ModeExtendedReadOnly}.ToSnapshot()
	fullAccess := Config{Mode: ModeFullAccess, FullAccessAcknowledged: true}.ToSnapshot()

	cases := []struct {
		name    string
		snap    Snapshot
		args    []string
		wantErr bool
	}{
		{"allows get pods", readOnly, []string{"get", "pods", "-n", "default"}, false},
		{"rejects delete in readOnly", readOnly, []string{"delete", "pod", "foo"}, true},
		{"rejects exec in readOnly", readOnly, []string{"exec", "-it", "pod", "--", "sh"}, true},
		{"allows exec in extendedReadOnly", extended, []string{"exec", "-it", "pod", "--", "sh"}, false},
		{"rejects delete even in extendedReadOnly", extended, []string{"delete", "pod", "foo"}, true},
		{"allows exec in fullAccess", fullAccess, []string{"exec", "-it", "pod", "--", "sh"}, false},
		{"allows patch in fullAccess", fullAccess, []string{"patch", "deployment", "foo"}, false},
		{"rejects --kubeconfig flag everywhere", fullAccess, []string{"get", "pods", "--kubeconfig", "/tmp/x"}, true},
		{"rejects --token flag everywhere", readOnly, []string{"get", "pods", "--token", "abc"}, true},
		{"rejects shell metacharacters", readOnly, []string{"get", "pods;", "rm", "-rf"}, true},
		{"rejects empty command", readOnly, []string{}, true},
		{"rejects unknown verb", readOnly, []string{"drain", "node/foo"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCommand(tc.snap, tc.args)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCommandTooManyArguments(t *testing.T) {
	snap := Config{Mode: ModeReadOnly, MaxArguments: 2}.ToSnapshot()
	err := ValidateCommand(snap, []string{"get", "pods", "-n", "default"})
	assert.Error(t, err)
}
