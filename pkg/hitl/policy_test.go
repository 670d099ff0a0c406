package hitl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/arbitra-ai/oversight/pkg/config"
)

func TestPolicyMatches(t *testing.T) {
	policy := EscalationPolicy{
		Name:                "critical_security",
		ConfidenceThreshold: 0.7,
		Severities:          []Severity{SeverityCritical, SeverityHigh},
		RiskCategories:      []string{"data_breach", "rce"},
		Timeout:             5 * time.Minute,
		FallbackAction:      FallbackDefer,
	}

	t.Run("matches when all dimensions align", func(t *testing.T) {
		assert.True(t, policy.Matches(Finding{
			Severity:        SeverityCritical,
			ConfidenceScore: 0.5,
			RiskCategories:  []string{"rce"},
		}))
	})

	t.Run("confidence at or above threshold does not match", func(t *testing.T) {
		assert.False(t, policy.Matches(Finding{
			Severity:        SeverityCritical,
			ConfidenceScore: 0.7,
			RiskCategories:  []string{"rce"},
		}))
	})

	t.Run("severity outside the allowlist does not match", func(t *testing.T) {
		assert.False(t, policy.Matches(Finding{
			Severity:        SeverityMedium,
			ConfidenceScore: 0.5,
			RiskCategories:  []string{"rce"},
		}))
	})

	t.Run("no risk category overlap does not match", func(t *testing.T) {
		assert.False(t, policy.Matches(Finding{
			Severity:        SeverityCritical,
			ConfidenceScore: 0.5,
			RiskCategories:  []string{"gdpr"},
		}))
	})

	t.Run("policy without risk categories never matches", func(t *testing.T) {
		assert.False(t, DefaultPolicy().Matches(Finding{
			Severity:        SeverityCritical,
			ConfidenceScore: 0.5,
			RiskCategories:  []string{"rce"},
		}))
	})
}

func TestPolicyRegistrySelect(t *testing.T) {
	first := EscalationPolicy{
		Name:                "first",
		ConfidenceThreshold: 0.9,
		Severities:          []Severity{SeverityCritical},
		RiskCategories:      []string{"rce"},
		Timeout:             time.Minute,
		FallbackAction:      FallbackDefer,
	}
	second := first
	second.Name = "second"
	second.FallbackAction = FallbackAutoReject

	finding := Finding{
		Severity:        SeverityCritical,
		ConfidenceScore: 0.5,
		RiskCategories:  []string{"rce"},
	}

	t.Run("first match wins", func(t *testing.T) {
		registry := NewPolicyRegistry(first, second)
		assert.Equal(t, "first", registry.Select(finding).Name)
	})

	t.Run("registration order decides between overlapping policies", func(t *testing.T) {
		registry := NewPolicyRegistry(second, first)
		assert.Equal(t, "second", registry.Select(finding).Name)
	})

	t.Run("falls back to the default policy", func(t *testing.T) {
		registry := NewPolicyRegistry(first)
		selected := registry.Select(Finding{Severity: SeverityMedium, ConfidenceScore: 0.5})
		assert.Equal(t, "default", selected.Name)
		assert.Equal(t, 15*time.Minute, selected.Timeout)
		assert.Equal(t, FallbackAutoApprove, selected.FallbackAction)
	})

	t.Run("empty registry always selects default", func(t *testing.T) {
		registry := NewPolicyRegistry()
		assert.Equal(t, "default", registry.Select(finding).Name)
	})
}

func TestNewPolicyRegistryFromConfig(t *testing.T) {
	t.Run("builds policies preserving order", func(t *testing.T) {
		registry, err := NewPolicyRegistryFromConfig(cfgpkg.DefaultPolicies())
		require.NoError(t, err)

		policies := registry.Policies()
		require.Len(t, policies, 2)
		assert.Equal(t, "critical_security", policies[0].Name)
		assert.Equal(t, 5*time.Minute, policies[0].Timeout)
		assert.Equal(t, FallbackDefer, policies[0].FallbackAction)
		assert.Equal(t, "compliance_review", policies[1].Name)
		assert.Equal(t, 10*time.Minute, policies[1].Timeout)
		assert.Equal(t, FallbackAutoReject, policies[1].FallbackAction)
	})

	t.Run("rejects missing name", func(t *testing.T) {
		_, err := NewPolicyRegistryFromConfig([]cfgpkg.EscalationPolicy{{TimeoutMs: 1000, FallbackAction: "defer"}})
		assert.Error(t, err)
	})

	t.Run("rejects non-positive timeout", func(t *testing.T) {
		_, err := NewPolicyRegistryFromConfig([]cfgpkg.EscalationPolicy{{Name: "p", FallbackAction: "defer"}})
		assert.Error(t, err)
	})

	t.Run("rejects unknown fallback", func(t *testing.T) {
		_, err := NewPolicyRegistryFromConfig([]cfgpkg.EscalationPolicy{{Name: "p", TimeoutMs: 1000, FallbackAction: "explode"}})
		assert.Error(t, err)
	})

	t.Run("rejects unknown severity", func(t *testing.T) {
		_, err := NewPolicyRegistryFromConfig([]cfgpkg.EscalationPolicy{{
			Name: "p", TimeoutMs: 1000, FallbackAction: "defer", Severities: []string{"catastrophic"},
		}})
		assert.Error(t, err)
	})
}
