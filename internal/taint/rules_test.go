package taint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
)

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	require.NoError(t, rules.Validate())
	assert.Len(t, rules.Sources, 7)
	assert.Len(t, rules.Sinks, 9)
	assert.Len(t, rules.Sanitizers, 7)

	// Callers get a copy; the process-wide defaults stay untouched.
	rules.Sanitizers[0].VulnTypes[0] = "changed"
	rules.Sinks = nil
	assert.Equal(t, VulnSQLInjection, DefaultRules().Sanitizers[0].VulnTypes[0])
	assert.Len(t, DefaultRules().Sinks, 9)
}

func TestLoadRulesExtendsDefaults(t *testing.T) {
	rules, err := LoadRules(filepath.Join("testdata", "extra_rules.yaml"))
	require.NoError(t, err)

	assert.Len(t, rules.Sources, 8)
	assert.Len(t, rules.Sinks, 11)
	assert.Len(t, rules.Sanitizers, 8)

	var logSink Sink
	for _, s := range rules.Sinks {
		if s.Name == "log.write" {
			logSink = s
		}
	}
	assert.Equal(t, "Log Injection", logSink.VulnType)
	assert.Equal(t, trace.SeverityLow, logSink.Severity)
}

func TestLoadRulesReplacingDefaults(t *testing.T) {
	rules, err := LoadRules(filepath.Join("testdata", "replace_rules.yaml"))
	require.NoError(t, err)

	require.Len(t, rules.Sources, 1)
	assert.Equal(t, "fetch", rules.Sources[0].Name)
	require.Len(t, rules.Sinks, 1)
	assert.Empty(t, rules.Sanitizers)

	tr := buildTaint(t, rules, "x := fetch(); store(x); db.exec(x);")
	require.Len(t, tr.Findings(), 1, "db.exec is not a sink once the defaults are replaced")
	assert.Equal(t, trace.SeverityMedium, tr.Findings()[0].Severity, "severity names are case-insensitive")
}

func TestLoadRulesMissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join("testdata", "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read taint rules")
}

func TestMergeOverridesByName(t *testing.T) {
	merged := DefaultRules().Merge(Rules{
		Sinks: []Sink{{Name: "db.exec", VulnType: VulnSQLInjection, Severity: trace.SeverityLow}},
		// input stops being a source and becomes a sanitizer.
		Sanitizers: []Sanitizer{{Name: "input", VulnTypes: []string{AllVulnTypes}}},
	})
	require.NoError(t, merged.Validate())

	assert.Len(t, merged.Sinks, 9)
	assert.Len(t, merged.Sources, 6)
	for _, s := range merged.Sinks {
		if s.Name == "db.exec" {
			assert.Equal(t, trace.SeverityLow, s.Severity)
		}
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		rules  Rules
		errMsg string
	}{
		{
			name:   "empty name",
			rules:  Rules{Sources: []Source{{Name: " "}}},
			errMsg: "empty name",
		},
		{
			name: "conflicting roles",
			rules: Rules{
				Sources: []Source{{Name: "f"}},
				Sinks:   []Sink{{Name: "f", VulnType: "X"}},
			},
			errMsg: `"f" is declared as both source and sink`,
		},
		{
			name:   "bad severity",
			rules:  Rules{Sinks: []Sink{{Name: "f", VulnType: "X", Severity: "urgent"}}},
			errMsg: `unknown severity "urgent"`,
		},
		{
			name:   "negative argument",
			rules:  Rules{Sinks: []Sink{{Name: "f", VulnType: "X", Args: []int{-1}}}},
			errMsg: "negative argument position",
		},
		{
			name:   "sanitizer without classes",
			rules:  Rules{Sanitizers: []Sanitizer{{Name: "clean"}}},
			errMsg: "cleans no vulnerability type",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rules.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestParseRulesRejectsMalformedYAML(t *testing.T) {
	_, err := ParseRules([]byte("sinks: [name: {"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode taint rules")
}

func TestLoadRulesFileForcingReplacement(t *testing.T) {
	rules, err := LoadRulesFile(filepath.Join("testdata", "extra_rules.yaml"), true)
	require.NoError(t, err)

	assert.Len(t, rules.Sources, 1)
	assert.Len(t, rules.Sinks, 2)
	assert.Len(t, rules.Sanitizers, 1)

	_, err = ParseRules([]byte("sinks: [{name: db.exec}]"))
	assert.ErrorIs(t, err, ErrInvalidRules)
}
