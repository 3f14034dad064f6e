// Package policy 保存启动时加载、之后只读的审核与风险策略。
package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Xushengqwer/risk_gate/internal/config"
)

// ModerationPolicy 是内容审核的加权违规模型。加载后只读。
type ModerationPolicy struct {
	ViolationWeights map[ViolationType]float64
	Patterns         map[ViolationType][]string

	FlagForReviewThreshold float64
	AutoBlockThreshold     float64
	AutoSuspendThreshold   float64

	MaxViolationsBeforeSuspension int
	DefaultSuspensionDuration     time.Duration
}

// Weight 返回某类违规的严重度；策略缺失该类别时回落到 DefaultViolationSeverity。
func (p *ModerationPolicy) Weight(t ViolationType) float64 {
	if w, ok := p.ViolationWeights[t]; ok {
		return w
	}
	return DefaultViolationSeverity
}

// Categories 返回所有配置了关键词的类别：内置类别在前 (固定顺序)，扩展类别按字母序在后。
func (p *ModerationPolicy) Categories() []ViolationType {
	out := make([]ViolationType, 0, len(p.Patterns))
	seen := make(map[ViolationType]struct{}, len(p.Patterns))
	for _, t := range BuiltinViolationTypes {
		if len(p.Patterns[t]) > 0 {
			out = append(out, t)
			seen[t] = struct{}{}
		}
	}
	var extra []ViolationType
	for t, pats := range p.Patterns {
		if _, ok := seen[t]; !ok && len(pats) > 0 {
			extra = append(extra, t)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// SkillDefault 是某个技能的默认危害类别与严重度
type SkillDefault struct {
	Harm     HarmType
	Severity float64
}

// UnknownSkillDefault 用于未登记的技能：偏向谨慎。
var UnknownSkillDefault = SkillDefault{Harm: HarmPrivacy | HarmSecurity, Severity: 0.5}

// SafetyPolicy 是行动计划风险闸门的策略。
type SafetyPolicy struct {
	SkillDefaults map[string]SkillDefault // key 为小写技能名

	ConfirmThreshold float64
	BlockThreshold   float64
	ConsentSeverity  float64

	FailClosedOnMalformedArgs bool
}

// Lookup 返回技能的默认值 (大小写不敏感)，第二个返回值表示是否命中登记项。
func (p *SafetyPolicy) Lookup(skill string) (SkillDefault, bool) {
	if d, ok := p.SkillDefaults[strings.ToLower(strings.TrimSpace(skill))]; ok {
		return d, true
	}
	return UnknownSkillDefault, false
}

// DefaultModerationPolicy 返回内置的审核策略。
// AutoSuspendThreshold 默认取 0.9 而不是与 AutoBlockThreshold 相同的 0.6，
// 这样拦截与自动封禁是两个不同的档位；需要 0.6 时可在配置中覆盖。
func DefaultModerationPolicy() *ModerationPolicy {
	return &ModerationPolicy{
		ViolationWeights:              defaultViolationWeights(),
		Patterns:                      defaultPatterns(),
		FlagForReviewThreshold:        0.3,
		AutoBlockThreshold:            0.6,
		AutoSuspendThreshold:          0.9,
		MaxViolationsBeforeSuspension: 5,
		DefaultSuspensionDuration:     24 * time.Hour,
	}
}

// DefaultSafetyPolicy 返回内置的行动计划策略
func DefaultSafetyPolicy() *SafetyPolicy {
	return &SafetyPolicy{
		SkillDefaults: map[string]SkillDefault{
			"file.read":      {Harm: HarmPrivacy, Severity: 0.3},
			"file.write":     {Harm: HarmSecurity, Severity: 0.5},
			"file.delete":    {Harm: HarmSecurity | HarmPrivacy, Severity: 0.8},
			"device.control": {Harm: HarmPhysical, Severity: 0.6},
			"payment.send":   {Harm: HarmFinancial, Severity: 0.9},
			"email.send":     {Harm: HarmPrivacy | HarmPsychological, Severity: 0.4},
			"contacts.read":  {Harm: HarmPrivacy, Severity: 0.5},
			"shell.execute":  {Harm: HarmSecurity | HarmEnvironmental, Severity: 1.0},
			"web.search":     {Harm: HarmNone, Severity: 0.1},
			"calendar.read":  {Harm: HarmPrivacy, Severity: 0.2},
		},
		ConfirmThreshold: 0.25,
		BlockThreshold:   0.6,
		ConsentSeverity:  0.3,
	}
}

// FromConfig 把配置叠加到内置默认策略上，并把所有分值钳制到 [0,1]。
func FromConfig(mc config.ModerationConfig, rc config.RiskGateConfig) (*ModerationPolicy, *SafetyPolicy, error) {
	mp := DefaultModerationPolicy()
	for name, w := range mc.ViolationWeights {
		mp.ViolationWeights[ParseViolationType(name)] = Clamp01(w)
	}
	if mc.ReplacePatterns && len(mc.Patterns) > 0 {
		mp.Patterns = make(map[ViolationType][]string, len(mc.Patterns))
	}
	for name, pats := range mc.Patterns {
		t := ParseViolationType(name)
		for _, pat := range pats {
			if norm := strings.ToLower(strings.TrimSpace(pat)); norm != "" {
				mp.Patterns[t] = append(mp.Patterns[t], norm)
			}
		}
	}
	setThreshold(&mp.FlagForReviewThreshold, mc.FlagForReviewThreshold)
	setThreshold(&mp.AutoBlockThreshold, mc.AutoBlockThreshold)
	setThreshold(&mp.AutoSuspendThreshold, mc.AutoSuspendThreshold)
	if mc.MaxViolationsBeforeSuspension > 0 {
		mp.MaxViolationsBeforeSuspension = mc.MaxViolationsBeforeSuspension
	}
	if mc.DefaultSuspensionDurationHours > 0 {
		mp.DefaultSuspensionDuration = time.Duration(mc.DefaultSuspensionDurationHours) * time.Hour
	}
	if mp.FlagForReviewThreshold > mp.AutoBlockThreshold || mp.AutoBlockThreshold > mp.AutoSuspendThreshold {
		return nil, nil, fmt.Errorf("审核阈值必须满足 flag(%.2f) <= block(%.2f) <= suspend(%.2f)",
			mp.FlagForReviewThreshold, mp.AutoBlockThreshold, mp.AutoSuspendThreshold)
	}

	sp := DefaultSafetyPolicy()
	for skill, d := range rc.SkillDefaults {
		harm, err := ParseHarmType(d.Harm...)
		if err != nil {
			return nil, nil, fmt.Errorf("技能 %q 的危害类别配置无效: %w", skill, err)
		}
		sp.SkillDefaults[strings.ToLower(strings.TrimSpace(skill))] = SkillDefault{Harm: harm, Severity: Clamp01(d.Severity)}
	}
	setThreshold(&sp.ConfirmThreshold, rc.ConfirmThreshold)
	setThreshold(&sp.BlockThreshold, rc.BlockThreshold)
	setThreshold(&sp.ConsentSeverity, rc.ConsentSeverity)
	sp.FailClosedOnMalformedArgs = rc.FailClosedOnMalformedArgs
	if sp.ConfirmThreshold > sp.BlockThreshold {
		return nil, nil, fmt.Errorf("计划阈值必须满足 confirm(%.2f) <= block(%.2f)", sp.ConfirmThreshold, sp.BlockThreshold)
	}
	return mp, sp, nil
}

func setThreshold(dst *float64, v *float64) {
	if v != nil {
		*dst = Clamp01(*v)
	}
}

// Clamp01 把 v 限制在 [0,1]。
func Clamp01(v float64) float64 {
	switch {
	case v < 0 || v != v:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
