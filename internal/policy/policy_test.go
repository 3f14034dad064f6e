package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xushengqwer/risk_gate/internal/config"
)

func ptr(v float64) *float64 { return &v }

func TestHarmTypeBitset(t *testing.T) {
	h := HarmPrivacy | HarmSecurity
	assert.True(t, h.Has(HarmPrivacy))
	assert.True(t, h.Has(HarmPrivacy|HarmSecurity))
	assert.False(t, h.Has(HarmFinancial))
	assert.False(t, h.Has(HarmNone))
	assert.Equal(t, "privacy|security", h.String())
	assert.Equal(t, "none", HarmNone.String())

	parsed, err := ParseHarmType("Security", " privacy ")
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHarmType("cosmic")
	assert.Error(t, err)

	var round HarmType
	require.NoError(t, round.UnmarshalText([]byte("physical|financial")))
	assert.Equal(t, HarmPhysical|HarmFinancial, round)
}

func TestWeightFallsBackForUnknownType(t *testing.T) {
	p := DefaultModerationPolicy()
	assert.Equal(t, 0.7, p.Weight(ViolationPersonalInfo))
	assert.Equal(t, DefaultViolationSeverity, p.Weight(ViolationType("brand_new")))
}

func TestLookupUnknownSkill(t *testing.T) {
	p := DefaultSafetyPolicy()
	d, ok := p.Lookup("FILE.DELETE")
	assert.True(t, ok)
	assert.Equal(t, 0.8, d.Severity)

	d, ok = p.Lookup("Teleport.Cat")
	assert.False(t, ok)
	assert.Equal(t, UnknownSkillDefault, d)
	assert.Equal(t, HarmPrivacy|HarmSecurity, d.Harm)
}

func TestFromConfigOverlaysAndClamps(t *testing.T) {
	mp, sp, err := FromConfig(config.ModerationConfig{
		ViolationWeights:               map[string]float64{"Spam": 1.7, "doxxing": 0.65},
		Patterns:                       map[string][]string{"doxxing": {" Home Address ", ""}},
		AutoSuspendThreshold:           ptr(0.95),
		MaxViolationsBeforeSuspension:  3,
		DefaultSuspensionDurationHours: 2,
	}, config.RiskGateConfig{
		BlockThreshold:            ptr(0.7),
		FailClosedOnMalformedArgs: true,
		SkillDefaults: map[string]config.SkillDefaultConfig{
			"Drone.Fly": {Harm: []string{"physical", "environmental"}, Severity: 2},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1.0, mp.Weight(ViolationSpam))
	assert.Equal(t, 0.65, mp.Weight("doxxing"))
	assert.Equal(t, []string{"home address"}, mp.Patterns["doxxing"])
	assert.Equal(t, 0.95, mp.AutoSuspendThreshold)
	assert.Equal(t, 3, mp.MaxViolationsBeforeSuspension)
	assert.Equal(t, 2*time.Hour, mp.DefaultSuspensionDuration)
	assert.Equal(t, ViolationType("doxxing"), mp.Categories()[len(mp.Categories())-1])

	d, ok := sp.Lookup("drone.fly")
	require.True(t, ok)
	assert.Equal(t, 1.0, d.Severity)
	assert.Equal(t, HarmPhysical|HarmEnvironmental, d.Harm)
	assert.Equal(t, 0.7, sp.BlockThreshold)
	assert.True(t, sp.FailClosedOnMalformedArgs)
}

func TestFromConfigRejectsInvertedThresholds(t *testing.T) {
	_, _, err := FromConfig(config.ModerationConfig{AutoBlockThreshold: ptr(0.95)}, config.RiskGateConfig{})
	assert.Error(t, err)

	_, _, err = FromConfig(config.ModerationConfig{}, config.RiskGateConfig{ConfirmThreshold: ptr(0.8)})
	assert.Error(t, err)

	_, _, err = FromConfig(config.ModerationConfig{}, config.RiskGateConfig{
		SkillDefaults: map[string]config.SkillDefaultConfig{"x": {Harm: []string{"bogus"}}},
	})
	assert.Error(t, err)
}

func TestDefaultSuspendThresholdAboveBlock(t *testing.T) {
	p := DefaultModerationPolicy()
	assert.Equal(t, 0.6, p.AutoBlockThreshold)
	assert.Equal(t, 0.9, p.AutoSuspendThreshold)

	mp, _, err := FromConfig(config.ModerationConfig{AutoSuspendThreshold: ptr(0.6)}, config.RiskGateConfig{})
	require.NoError(t, err, "封禁阈值可以配置为与拦截阈值相同")
	assert.Equal(t, 0.6, mp.AutoSuspendThreshold)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.1))
	assert.Equal(t, 1.0, Clamp01(3))
	assert.Equal(t, 0.42, Clamp01(0.42))
}
