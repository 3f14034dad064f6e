package moderation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Xushengqwer/risk_gate/internal/platform"
	"github.com/Xushengqwer/risk_gate/internal/policy"
)

// ContentViolation 是一次关键词命中。Position 为第一次出现在原始文本中的字节偏移；
// 来自远程审核平台的命中没有位置信息，Position 为 -1。
type ContentViolation struct {
	Type           policy.ViolationType `json:"type"`
	Description    string               `json:"description"`
	Severity       float64              `json:"severity"`
	MatchedPattern string               `json:"matchedPattern"`
	Position       int                  `json:"position"`
}

// defaultLabelMapping 把远程审核平台的标签映射到本地违规类别。
var defaultLabelMapping = map[string]policy.ViolationType{
	"porn":       policy.ViolationSexual,
	"abuse":      policy.ViolationHarassment,
	"terrorism":  policy.ViolationViolence,
	"ad":         policy.ViolationSpam,
	"spam":       policy.ViolationSpam,
	"contraband": policy.ViolationViolence,
	"flood":      policy.ViolationSpam,
}

// Scanner 对文本做大小写不敏感的子串匹配。它不持有任何可变状态。
type Scanner struct {
	policy   *policy.ModerationPolicy
	labelMap map[string]policy.ViolationType
}

// NewScanner 创建扫描器。labelOverrides 覆盖内置的远程标签映射 (标签 -> 类别名)。
func NewScanner(p *policy.ModerationPolicy, labelOverrides map[string]string) *Scanner {
	labels := make(map[string]policy.ViolationType, len(defaultLabelMapping)+len(labelOverrides))
	for k, v := range defaultLabelMapping {
		labels[k] = v
	}
	for k, v := range labelOverrides {
		labels[strings.ToLower(strings.TrimSpace(k))] = policy.ParseViolationType(v)
	}
	return &Scanner{policy: p, labelMap: labels}
}

// Scan 对每个命中的关键词产生一条违规。同一类别中相互重叠的关键词各自记录，不去重。
func (s *Scanner) Scan(text string) []ContentViolation {
	if text == "" {
		return nil
	}
	lowered, offsets := lowerWithOffsets(text)
	var out []ContentViolation
	for _, cat := range s.policy.Categories() {
		severity := s.policy.Weight(cat)
		for _, pat := range s.policy.Patterns[cat] {
			if pat == "" {
				continue
			}
			pos := strings.Index(lowered, pat)
			if pos < 0 {
				continue
			}
			out = append(out, ContentViolation{
				Type:           cat,
				Description:    fmt.Sprintf("matched %s pattern %q", cat, pat),
				Severity:       severity,
				MatchedPattern: pat,
				Position:       offsets[pos],
			})
		}
	}
	return out
}

// FromRemote 把远程审核平台给出的风险标签转换为违规。未知标签按 spam 处理。
func (s *Scanner) FromRemote(platformName string, res platform.ReviewResult) []ContentViolation {
	if res.Error != nil || res.Suggestion == "" || res.Suggestion == "pass" {
		return nil
	}
	out := make([]ContentViolation, 0, len(res.Details))
	for _, d := range res.Details {
		label := strings.ToLower(strings.TrimSpace(d.Label))
		if label == "" || label == "normal" {
			continue
		}
		cat, ok := s.labelMap[label]
		if !ok {
			cat = policy.ViolationSpam
		}
		var matched string
		if len(d.MatchedContent) > 0 {
			matched = d.MatchedContent[0]
		}
		out = append(out, ContentViolation{
			Type:           cat,
			Description:    fmt.Sprintf("%s label %q (suggestion %s)", platformName, d.Label, d.Suggestion),
			Severity:       s.policy.Weight(cat),
			MatchedPattern: matched,
			Position:       -1,
		})
	}
	return out
}

// Score 返回最大严重度；没有违规时为 0。
func Score(violations []ContentViolation) float64 {
	var top float64
	for _, v := range violations {
		if v.Severity > top {
			top = v.Severity
		}
	}
	return policy.Clamp01(top)
}

func summarize(violations []ContentViolation) string {
	seen := make(map[policy.ViolationType]struct{}, len(violations))
	var cats []string
	for _, v := range violations {
		if _, ok := seen[v.Type]; ok {
			continue
		}
		seen[v.Type] = struct{}{}
		cats = append(cats, string(v.Type))
	}
	return strings.Join(cats, ",")
}

// lowerWithOffsets 逐个字符转小写，并记录小写文本中每个字节对应的原始字节偏移。
// 大小写转换可能改变字符的字节长度 (例如 "İ")，直接用小写文本的偏移会与原文错位。
func lowerWithOffsets(text string) (string, []int) {
	var b strings.Builder
	b.Grow(len(text))
	offsets := make([]int, 0, len(text)+1)
	for i, r := range text {
		lr := unicode.ToLower(r)
		b.WriteRune(lr)
		for j := 0; j < utf8.RuneLen(lr); j++ {
			offsets = append(offsets, i)
		}
	}
	offsets = append(offsets, len(text))
	return b.String(), offsets
}
