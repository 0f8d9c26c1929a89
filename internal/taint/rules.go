// File: internal/taint/rules.go
// Package taint specialises trace building for the Taint domain. This file holds the
// source, sink and sanitizer rules.
package taint

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
)

// Vulnerability classes used by the default sinks.
const (
	VulnSQLInjection     = "SQL Injection"
	VulnCommandInjection = "Command Injection"
	VulnXSS              = "Cross-Site Scripting"
	VulnPathTraversal    = "Path Traversal"
	VulnOpenRedirect     = "Open Redirect"
	VulnCodeInjection    = "Code Injection"
)

// AllVulnTypes in a sanitizer's list cleans data for every vulnerability class.
const AllVulnTypes = "*"

// Source is a call whose result is attacker controlled.
type Source struct {
	Name string `yaml:"name" json:"name"`
}

// Sink is a call that must not receive tainted data.
type Sink struct {
	Name     string         `yaml:"name" json:"name"`
	VulnType string         `yaml:"vuln_type" json:"vulnType"`
	Severity trace.Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
	// Args lists the sensitive argument positions (0-based). Empty means every argument.
	Args []int `yaml:"args,omitempty" json:"args,omitempty"`
}

// Sanitizer is a call that cleans its argument for the listed vulnerability classes.
type Sanitizer struct {
	Name      string   `yaml:"name" json:"name"`
	VulnTypes []string `yaml:"vuln_types" json:"vulnTypes"`
}

// Rules is a complete rule set.
type Rules struct {
	Sources    []Source    `yaml:"sources" json:"sources"`
	Sinks      []Sink      `yaml:"sinks" json:"sinks"`
	Sanitizers []Sanitizer `yaml:"sanitizers" json:"sanitizers"`
}

var defaultRules = Rules{
	Sources: []Source{
		{Name: "user_input"},
		{Name: "input"},
		{Name: "read_input"},
		{Name: "request.param"},
		{Name: "request.body"},
		{Name: "get_cookie"},
		{Name: "getenv"},
	},
	Sinks: []Sink{
		{Name: "db.exec", VulnType: VulnSQLInjection},
		{Name: "db.query", VulnType: VulnSQLInjection},
		{Name: "os.system", VulnType: VulnCommandInjection},
		{Name: "exec", VulnType: VulnCommandInjection},
		{Name: "html.write", VulnType: VulnXSS},
		{Name: "render", VulnType: VulnXSS},
		{Name: "open_file", VulnType: VulnPathTraversal},
		{Name: "redirect", VulnType: VulnOpenRedirect},
		{Name: "eval", VulnType: VulnCodeInjection},
	},
	Sanitizers: []Sanitizer{
		{Name: "escape_sql", VulnTypes: []string{VulnSQLInjection}},
		{Name: "db.escape", VulnTypes: []string{VulnSQLInjection}},
		{Name: "escape_html", VulnTypes: []string{VulnXSS}},
		{Name: "shell_quote", VulnTypes: []string{VulnCommandInjection}},
		{Name: "normalize_path", VulnTypes: []string{VulnPathTraversal}},
		{Name: "validate_url", VulnTypes: []string{VulnOpenRedirect}},
		{Name: "to_int", VulnTypes: []string{AllVulnTypes}},
	},
}

// DefaultRules returns a copy of the built-in rules.
func DefaultRules() Rules {
	return defaultRules.Clone()
}

// Clone returns a deep copy of r.
func (r Rules) Clone() Rules {
	out := Rules{
		Sources:    append([]Source(nil), r.Sources...),
		Sinks:      make([]Sink, len(r.Sinks)),
		Sanitizers: make([]Sanitizer, len(r.Sanitizers)),
	}
	for i, s := range r.Sinks {
		s.Args = append([]int(nil), s.Args...)
		out.Sinks[i] = s
	}
	for i, s := range r.Sanitizers {
		s.VulnTypes = append([]string(nil), s.VulnTypes...)
		out.Sanitizers[i] = s
	}
	return out
}

// Merge returns r extended by other. Rules in other replace rules of r with the same
// name; a name may only play one role.
func (r Rules) Merge(other Rules) Rules {
	out := Rules{}
	overridden := map[string]bool{}
	for _, s := range other.Sources {
		overridden[s.Name] = true
	}
	for _, s := range other.Sinks {
		overridden[s.Name] = true
	}
	for _, s := range other.Sanitizers {
		overridden[s.Name] = true
	}

	base := r.Clone()
	for _, s := range base.Sources {
		if !overridden[s.Name] {
			out.Sources = append(out.Sources, s)
		}
	}
	for _, s := range base.Sinks {
		if !overridden[s.Name] {
			out.Sinks = append(out.Sinks, s)
		}
	}
	for _, s := range base.Sanitizers {
		if !overridden[s.Name] {
			out.Sanitizers = append(out.Sanitizers, s)
		}
	}
	extra := other.Clone()
	out.Sources = append(out.Sources, extra.Sources...)
	out.Sinks = append(out.Sinks, extra.Sinks...)
	out.Sanitizers = append(out.Sanitizers, extra.Sanitizers...)
	return out
}

// Fingerprint is a stable rendering of r. Traces built under different rules carry
// different fingerprints and therefore different IDs.
func (r Rules) Fingerprint() string {
	out, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%+v", r)
	}
	return string(out)
}

// Validate checks names, severities and role conflicts.
func (r Rules) Validate() error {
	var errs []error
	roles := map[string]string{}
	claim := func(name, role string) {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("%s with an empty name", role))
			return
		}
		if prev, ok := roles[name]; ok {
			errs = append(errs, fmt.Errorf("%q is declared as both %s and %s", name, prev, role))
			return
		}
		roles[name] = role
	}

	for _, s := range r.Sources {
		claim(s.Name, "source")
	}
	for _, s := range r.Sinks {
		claim(s.Name, "sink")
		if s.VulnType == "" {
			errs = append(errs, fmt.Errorf("sink %q has no vulnerability type", s.Name))
		}
		if s.Severity != "" {
			if _, err := trace.ParseSeverity(string(s.Severity)); err != nil {
				errs = append(errs, fmt.Errorf("sink %q: %w", s.Name, err))
			}
		}
		for _, a := range s.Args {
			if a < 0 {
				errs = append(errs, fmt.Errorf("sink %q: negative argument position %d", s.Name, a))
			}
		}
	}
	for _, s := range r.Sanitizers {
		claim(s.Name, "sanitizer")
		if len(s.VulnTypes) == 0 {
			errs = append(errs, fmt.Errorf("sanitizer %q cleans no vulnerability type", s.Name))
		}
	}
	return errors.Join(errs...)
}

// ruleFile is the YAML layout of a rules file.
type ruleFile struct {
	// ReplaceDefaults drops the built-in rules instead of extending them.
	ReplaceDefaults bool `yaml:"replace_defaults"`
	Rules           `yaml:",inline"`
}

// ParseRules decodes a YAML rule document and combines it with the defaults unless the
// document asks to replace them.
func ParseRules(data []byte) (Rules, error) {
	return parseRules(data, false)
}

func parseRules(data []byte, replaceDefaults bool) (Rules, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Rules{}, fmt.Errorf("failed to decode taint rules: %w", err)
	}
	rules := f.Rules
	if !f.ReplaceDefaults && !replaceDefaults {
		rules = DefaultRules().Merge(f.Rules)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	return rules, nil
}

// LoadRules reads a YAML rules file.
func LoadRules(path string) (Rules, error) {
	return LoadRulesFile(path, false)
}

// LoadRulesFile reads a YAML rules file. With replaceDefaults the file's rules stand alone
// whether or not the file sets replace_defaults itself.
func LoadRulesFile(path string, replaceDefaults bool) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read taint rules from %s: %w", path, err)
	}
	return parseRules(data, replaceDefaults)
}
