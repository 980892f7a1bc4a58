package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is an operator-supplied governance profile: tuning for the
// builtin policies plus any number of CEL rules. Profiles are plain
// YAML files loaded at startup.
type Profile struct {
	// SensitiveVerbs overrides the builtin sensitive-action list.
	SensitiveVerbs []string `yaml:"sensitive_verbs,omitempty"`

	// CostCeilingCents is the threshold for the cost-threshold policy.
	// Zero disables the policy.
	CostCeilingCents int64 `yaml:"cost_ceiling_cents,omitempty"`

	// SphereIdleWindow is how long a sphere orchestrator may sit idle
	// before it is eligible for retirement.
	SphereIdleWindow time.Duration `yaml:"sphere_idle_window,omitempty"`

	// Rules are operator-defined CEL policies.
	Rules []Rule `yaml:"rules,omitempty"`
}

// UnmarshalYAML accepts the idle window as a duration string ("15m").
func (p *Profile) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		SensitiveVerbs   []string `yaml:"sensitive_verbs"`
		CostCeilingCents int64    `yaml:"cost_ceiling_cents"`
		SphereIdleWindow string   `yaml:"sphere_idle_window"`
		Rules            []Rule   `yaml:"rules"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	p.SensitiveVerbs = r.SensitiveVerbs
	p.CostCeilingCents = r.CostCeilingCents
	p.Rules = r.Rules
	p.SphereIdleWindow = 0
	if r.SphereIdleWindow != "" {
		d, err := time.ParseDuration(r.SphereIdleWindow)
		if err != nil {
			return fmt.Errorf("sphere_idle_window: %w", err)
		}
		p.SphereIdleWindow = d
	}
	return nil
}

// DefaultProfile returns the profile used when no file is configured.
func DefaultProfile() Profile {
	return Profile{
		SensitiveVerbs:   append([]string(nil), DefaultSensitiveVerbs...),
		SphereIdleWindow: 15 * time.Minute,
	}
}

// LoadProfile reads a YAML profile from disk. Missing optional fields
// fall back to the defaults.
func LoadProfile(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("policy: read profile: %w", err)
	}
	p := DefaultProfile()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Profile{}, fmt.Errorf("policy: parse profile %s: %w", path, err)
	}
	if len(p.SensitiveVerbs) == 0 {
		p.SensitiveVerbs = append([]string(nil), DefaultSensitiveVerbs...)
	}
	if p.SphereIdleWindow <= 0 {
		p.SphereIdleWindow = 15 * time.Minute
	}
	return p, nil
}

// BuildGate constructs a gate carrying the builtin policies configured
// by the profile, followed by the profile's compiled CEL rules.
func BuildGate(p Profile) (*Gate, error) {
	g := NewGate()
	builtins := []Policy{
		IdentityBoundary(),
		SensitiveActions(p.SensitiveVerbs),
		CrossScopeAccess(),
		DelegatedIdentity(),
	}
	if p.CostCeilingCents > 0 {
		builtins = append(builtins, CostThreshold(p.CostCeilingCents))
	}
	for _, b := range builtins {
		if err := g.Register(b); err != nil {
			return nil, err
		}
	}
	for _, r := range p.Rules {
		compiled, err := CompileRule(r)
		if err != nil {
			return nil, err
		}
		if err := g.Register(compiled); err != nil {
			return nil, err
		}
	}
	return g, nil
}
