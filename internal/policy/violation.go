package policy

import "strings"

// ViolationType 是违规类别标签，创建后不可变。
// 除内置类别外，也允许通过配置扩展新的类别。
type ViolationType string

const (
	ViolationHate               ViolationType = "hate"
	ViolationViolence           ViolationType = "violence"
	ViolationSelfHarm           ViolationType = "self_harm"
	ViolationSexual             ViolationType = "sexual"
	ViolationHarassment         ViolationType = "harassment"
	ViolationSpam               ViolationType = "spam"
	ViolationPhishing           ViolationType = "phishing"
	ViolationPersonalInfo       ViolationType = "personal_info"
	ViolationExcessiveProfanity ViolationType = "excessive_profanity"
)

// BuiltinViolationTypes 按固定顺序列出内置类别，扫描时按此顺序输出，保证结果稳定。
var BuiltinViolationTypes = []ViolationType{
	ViolationHate,
	ViolationViolence,
	ViolationSelfHarm,
	ViolationSexual,
	ViolationHarassment,
	ViolationSpam,
	ViolationPhishing,
	ViolationPersonalInfo,
	ViolationExcessiveProfanity,
}

// ParseViolationType 规范化配置中的类别名称 (大小写、空白不敏感)。
func ParseViolationType(s string) ViolationType {
	return ViolationType(strings.ToLower(strings.TrimSpace(s)))
}

// DefaultViolationSeverity 是策略中缺失某类别权重时使用的兜底值。
const DefaultViolationSeverity = 0.5

// defaultViolationWeights 是内置的每类违规严重度。
func defaultViolationWeights() map[ViolationType]float64 {
	return map[ViolationType]float64{
		ViolationHate:               0.8,
		ViolationViolence:           0.5,
		ViolationSelfHarm:           0.9,
		ViolationSexual:             0.7,
		ViolationHarassment:         0.6,
		ViolationSpam:               0.3,
		ViolationPhishing:           0.8,
		ViolationPersonalInfo:       0.7,
		ViolationExcessiveProfanity: 0.4,
	}
}

// defaultPatterns 是内置的分类关键词 (全部小写，做子串匹配)。
func defaultPatterns() map[ViolationType][]string {
	return map[ViolationType][]string{
		ViolationHate:               {"subhuman", "go back to your country", "inferior race", "ethnic cleansing"},
		ViolationViolence:           {"kill", "murder", "shoot you", "stab", "beat you up", "bomb"},
		ViolationSelfHarm:           {"kill myself", "suicide", "self harm", "self-harm", "cut myself", "end my life"},
		ViolationSexual:             {"nude", "explicit photos", "porn", "sexual favors"},
		ViolationHarassment:         {"you are worthless", "nobody likes you", "shut up idiot", "loser", "stupid"},
		ViolationSpam:               {"buy now", "free money", "click here", "limited offer", "act now", "work from home"},
		ViolationPhishing:           {"verify your account", "confirm your password", "login to claim", "account suspended click", "reset your password here"},
		ViolationPersonalInfo:       {"ssn", "social security", "credit card number", "passport number", "bank account number"},
		ViolationExcessiveProfanity: {"fuck", "shit", "bitch", "bastard", "asshole"},
	}
}
