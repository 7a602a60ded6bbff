package safety

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Guard modes accepted by BuildGuard.
const (
	ModeSubstring = "substring"
	ModeRules     = "rules"
)

// Policy is the on-disk shape of a guard policy file. ExtraPatterns extend the
// substring blocklist; Rules extend the typed rule set. Mode, when set,
// overrides the configured mode.
type Policy struct {
	Mode          string   `yaml:"mode,omitempty"`
	ExtraPatterns []string `yaml:"extra_patterns,omitempty"`
	Rules         []Rule   `yaml:"rules,omitempty"`
}

// LoadPolicyFile reads and validates a YAML policy. An empty path yields an
// empty policy.
func LoadPolicyFile(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return &Policy{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("policy file %s: %w", path, err)
	}
	return &p, nil
}

// Validate checks the mode and every rule.
func (p *Policy) Validate() error {
	switch p.Mode {
	case "", ModeSubstring, ModeRules:
	default:
		return fmt.Errorf("unknown guard mode %q", p.Mode)
	}
	for _, r := range p.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// BuildGuard constructs the guard for mode, layering p on top of the
// built-in defaults. A nil policy means defaults only.
func BuildGuard(mode string, p *Policy) (Guard, error) {
	if p == nil {
		p = &Policy{}
	}
	if p.Mode != "" {
		mode = p.Mode
	}

	switch mode {
	case "", ModeSubstring:
		return NewSubstringGuard(p.ExtraPatterns), nil
	case ModeRules:
		extra := make([]Rule, 0, len(p.Rules)+len(p.ExtraPatterns))
		extra = append(extra, p.Rules...)
		for _, pattern := range p.ExtraPatterns {
			if pattern == "" {
				continue
			}
			extra = append(extra, Rule{Kind: RuleSubstring, Match: pattern, Reason: "policy pattern"})
		}
		return NewRuleGuard(extra)
	default:
		return nil, fmt.Errorf("unknown guard mode %q", mode)
	}
}

// SwitchableGuard delegates to a guard that can be replaced while commands
// are being classified.
type SwitchableGuard struct {
	current atomic.Pointer[guardHolder]
}

type guardHolder struct {
	guard Guard
}

// NewSwitchableGuard wraps initial. A nil initial falls back to the default
// substring guard.
func NewSwitchableGuard(initial Guard) *SwitchableGuard {
	s := &SwitchableGuard{}
	s.Swap(initial)
	return s
}

// Swap installs g as the active guard.
func (s *SwitchableGuard) Swap(g Guard) {
	if g == nil {
		g = NewDefaultGuard()
	}
	s.current.Store(&guardHolder{guard: g})
}

// Current returns the active guard.
func (s *SwitchableGuard) Current() Guard {
	return s.current.Load().guard
}

// IsHarmful implements Guard.
func (s *SwitchableGuard) IsHarmful(command string) bool {
	return s.Current().IsHarmful(command)
}

// Explain implements Explainer.
func (s *SwitchableGuard) Explain(command string) Decision {
	return Explain(s.Current(), command)
}
