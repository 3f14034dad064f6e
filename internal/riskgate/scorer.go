package riskgate

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Xushengqwer/risk_gate/internal/policy"
)

// BaselineProbability 是没有任何可疑信号时的步骤出错概率。
const BaselineProbability = 0.2

// Heuristic 是调用方提供的额外判断，返回值只能抬高概率，不会降低。
// 参数无法解析为 JSON 对象时 args 为 nil。
type Heuristic func(skill string, args map[string]any) float64

type markerGroup struct {
	name    string
	floor   float64
	markers []string
}

// 标记词按整词匹配，只允许带常见词尾，
// 因此 "wireless"、"dropdown"、"information" 不会命中 wire、drop、format。
var markerGroups = []markerGroup{
	{name: "destructive", floor: 0.6, markers: []string{"delete", "remove", "rm -rf", "drop", "wipe", "erase", "truncate", "format"}},
	{name: "credential", floor: 0.7, markers: []string{"password", "passwd", "secret", "ssn", "social security", "api_key", "apikey", "token", "private key", "credential"}},
	{name: "financial", floor: 0.6, markers: []string{"transfer", "payment", "wire", "withdraw", "purchase", "bank", "iban", "credit card"}},
}

// Scorer 计算单个步骤的风险 = severity × probability。
type Scorer struct {
	heuristic  Heuristic
	failClosed bool
}

// NewScorer 创建评分器。failClosed 为 true 时，无法解析的参数按最高概率处理。
func NewScorer(h Heuristic, failClosed bool) *Scorer {
	return &Scorer{heuristic: h, failClosed: failClosed}
}

// Score 为一个步骤打分。
func (s *Scorer) Score(skill string, raw json.RawMessage, def policy.SkillDefault) StepAnalysis {
	prob, args, malformed, signals := s.probability(skill, raw)
	if malformed || len(bytes.TrimSpace(raw)) == 0 {
		// 非法或为空的参数不写入结论
		raw = nil
	}
	return StepAnalysis{
		Skill:         skill,
		Arguments:     raw,
		Harm:          def.Harm,
		Severity:      policy.Clamp01(def.Severity),
		Probability:   prob,
		Risk:          policy.Clamp01(def.Severity * prob),
		Signals:       signals,
		MalformedArgs: malformed,
		scope:         scopeOf(args),
	}
}

func (s *Scorer) probability(skill string, raw json.RawMessage) (float64, map[string]any, bool, []string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		trimmed = []byte("{}")
	}
	if !json.Valid(trimmed) {
		if s.failClosed {
			return 1, nil, true, []string{"malformed_arguments"}
		}
		return BaselineProbability, nil, true, nil
	}

	var args map[string]any
	if err := json.Unmarshal(trimmed, &args); err != nil {
		args = nil
	}

	prob := BaselineProbability
	var signals []string
	text := strings.ToLower(string(trimmed))
	for _, g := range markerGroups {
		for _, m := range g.markers {
			if containsMarker(text, m) {
				prob = max(prob, g.floor)
				signals = append(signals, g.name)
				break
			}
		}
	}
	if s.heuristic != nil {
		if h := policy.Clamp01(s.heuristic(skill, args)); h > prob {
			prob = h
			signals = append(signals, "heuristic")
		}
	}
	return policy.Clamp01(prob), args, false, signals
}

func scopeOf(args map[string]any) string {
	if v, ok := args["scope"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

var markerSuffixes = []string{"", "s", "es", "d", "ed", "ing"}

// containsMarker 判断 marker 是否以整词 (可带 markerSuffixes 中的词尾) 出现在 text 中。
func containsMarker(text, marker string) bool {
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], marker)
		if i < 0 {
			return false
		}
		start := from + i
		if !wordRuneBefore(text, start) && isInflection(text[start+len(marker):]) {
			return true
		}
		from = start + 1
	}
	return false
}

func wordRuneBefore(text string, i int) bool {
	if i == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return isWordRune(r)
}

// isInflection 判断标记词之后紧跟的字符是否只构成允许的词尾。
func isInflection(rest string) bool {
	n := 0
	for n < len(rest) {
		r, size := utf8.DecodeRuneInString(rest[n:])
		if !isWordRune(r) {
			break
		}
		n += size
	}
	for _, suf := range markerSuffixes {
		if rest[:n] == suf {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
