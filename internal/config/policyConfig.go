package config

// ModerationConfig 对应内容审核策略。所有字段都是可选的，
// 未配置的字段沿用 policy 包内置的默认值。
type ModerationConfig struct {
	ViolationWeights               map[string]float64  `mapstructure:"violation_weights"` // 类别 -> 严重度 [0,1]
	Patterns                       map[string][]string `mapstructure:"patterns"`          // 类别 -> 关键词列表 (追加到内置列表)
	ReplacePatterns                bool                `mapstructure:"replace_patterns"`  // true 时用配置的关键词完全替换内置列表
	FlagForReviewThreshold         *float64            `mapstructure:"flag_for_review_threshold"`
	AutoBlockThreshold             *float64            `mapstructure:"auto_block_threshold"`
	AutoSuspendThreshold           *float64            `mapstructure:"auto_suspend_threshold"`
	MaxViolationsBeforeSuspension  int                 `mapstructure:"max_violations_before_suspension"`
	DefaultSuspensionDurationHours int                 `mapstructure:"default_suspension_duration_hours"`
}

// SkillDefaultConfig 描述一个技能的默认危害类别与严重度
type SkillDefaultConfig struct {
	Harm     []string `mapstructure:"harm"` // 例如 ["privacy", "security"]
	Severity float64  `mapstructure:"severity"`
}

// RiskGateConfig 对应行动计划风险闸门策略
type RiskGateConfig struct {
	ConfirmThreshold          *float64                      `mapstructure:"confirm_threshold"`
	BlockThreshold            *float64                      `mapstructure:"block_threshold"`
	ConsentSeverity           *float64                      `mapstructure:"consent_severity"` // 严重度达到该值的步骤需要用户授权
	FailClosedOnMalformedArgs bool                          `mapstructure:"fail_closed_on_malformed_args"`
	SkillDefaults             map[string]SkillDefaultConfig `mapstructure:"skill_defaults"`
}
