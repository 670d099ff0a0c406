package hitl

import (
	"slices"
	"time"

	"github.com/pkg/errors"

	cfgpkg "github.com/arbitra-ai/oversight/pkg/config"
)

// EscalationPolicy maps finding characteristics to the human roles that must
// review them, a response deadline, and the automatic fallback applied when
// nobody responds in time.
type EscalationPolicy struct {
	Name                string
	ConfidenceThreshold float64
	Severities          []Severity
	RiskCategories      []string
	Complexity          Complexity
	HumanRoles          []string
	Timeout             time.Duration
	FallbackAction      FallbackAction
}

// DefaultPolicy is applied when no registered policy matches a finding.
// Policy selection never fails.
func DefaultPolicy() EscalationPolicy {
	return EscalationPolicy{
		Name:                "default",
		ConfidenceThreshold: 0.8,
		Severities:          []Severity{SeverityCritical, SeverityHigh, SeverityMedium},
		RiskCategories:      nil,
		Complexity:          ComplexityMedium,
		HumanRoles:          []string{"security_analyst"},
		Timeout:             15 * time.Minute,
		FallbackAction:      FallbackAutoApprove,
	}
}

// Matches reports whether this policy applies to the finding. Severity is an
// exact membership test while risk categories only need any overlap; the
// asymmetry is intentional (policies express "any of these risk tags" against
// an explicit severity allowlist).
func (p EscalationPolicy) Matches(finding Finding) bool {
	if finding.ConfidenceScore >= p.ConfidenceThreshold {
		return false
	}
	if !slices.Contains(p.Severities, finding.Severity) {
		return false
	}
	for _, rc := range p.RiskCategories {
		if slices.Contains(finding.RiskCategories, rc) {
			return true
		}
	}
	return false
}

// PolicyRegistry is an ordered, immutable sequence of escalation policies.
// Registry order is the tie-break between overlapping policies: the first
// match wins.
type PolicyRegistry struct {
	policies []EscalationPolicy
}

// NewPolicyRegistry builds a registry from the given policies in priority order.
func NewPolicyRegistry(policies ...EscalationPolicy) *PolicyRegistry {
	return &PolicyRegistry{policies: slices.Clone(policies)}
}

// NewPolicyRegistryFromConfig builds a registry from YAML policy config,
// preserving file order.
func NewPolicyRegistryFromConfig(cfgs []cfgpkg.EscalationPolicy) (*PolicyRegistry, error) {
	policies := make([]EscalationPolicy, 0, len(cfgs))
	for _, pc := range cfgs {
		p, err := policyFromConfig(pc)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid escalation policy %q", pc.Name)
		}
		policies = append(policies, p)
	}
	return NewPolicyRegistry(policies...), nil
}

func policyFromConfig(pc cfgpkg.EscalationPolicy) (EscalationPolicy, error) {
	if pc.Name == "" {
		return EscalationPolicy{}, errors.New("policy name must not be empty")
	}
	if pc.TimeoutMs <= 0 {
		return EscalationPolicy{}, errors.New("timeoutMs must be positive")
	}
	fallback := FallbackAction(pc.FallbackAction)
	switch fallback {
	case FallbackAutoApprove, FallbackAutoReject, FallbackDefer:
	default:
		return EscalationPolicy{}, errors.Errorf("unknown fallbackAction %q", pc.FallbackAction)
	}
	severities := make([]Severity, 0, len(pc.Severities))
	for _, s := range pc.Severities {
		sev := Severity(s)
		switch sev {
		case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
			severities = append(severities, sev)
		default:
			return EscalationPolicy{}, errors.Errorf("unknown severity %q", s)
		}
	}
	return EscalationPolicy{
		Name:                pc.Name,
		ConfidenceThreshold: pc.ConfidenceThreshold,
		Severities:          severities,
		RiskCategories:      slices.Clone(pc.RiskCategories),
		Complexity:          Complexity(pc.Complexity),
		HumanRoles:          slices.Clone(pc.HumanRoles),
		Timeout:             time.Duration(pc.TimeoutMs) * time.Millisecond,
		FallbackAction:      fallback,
	}, nil
}

// Select scans the registry in order and returns the first matching policy,
// falling back to DefaultPolicy when none matches.
func (r *PolicyRegistry) Select(finding Finding) EscalationPolicy {
	for _, p := range r.policies {
		if p.Matches(finding) {
			return p
		}
	}
	return DefaultPolicy()
}

// Policies returns a copy of the registered policies in priority order.
func (r *PolicyRegistry) Policies() []EscalationPolicy {
	return slices.Clone(r.policies)
}
