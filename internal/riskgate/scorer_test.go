package riskgate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Xushengqwer/risk_gate/internal/policy"
)

func TestScorerMarkers(t *testing.T) {
	def := policy.SkillDefault{Harm: policy.HarmSecurity, Severity: 1.0}
	s := NewScorer(nil, false)

	cases := []struct {
		name string
		args string
		want float64
	}{
		{"baseline", `{"path": "/tmp/report.txt"}`, BaselineProbability},
		{"empty", ``, BaselineProbability},
		{"destructive", `{"cmd": "DROP TABLE users"}`, 0.6},
		{"credential", `{"field": "Password"}`, 0.7},
		{"financial", `{"op": "wire", "amount": 10}`, 0.6},
		{"credential wins", `{"op": "delete", "what": "api_key"}`, 0.7},
		{"non-object json", `["transfer"]`, 0.6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := s.Score("x", json.RawMessage(tc.args), def)
			assert.InDelta(t, tc.want, a.Probability, 1e-9)
			assert.InDelta(t, tc.want, a.Risk, 1e-9)
			assert.False(t, a.MalformedArgs)
		})
	}
}

func TestScorerIgnoresMarkersInsideWords(t *testing.T) {
	def := policy.SkillDefault{Harm: policy.HarmPhysical, Severity: 0.6}
	s := NewScorer(nil, false)

	benign := []string{
		`{"query": "weather information"}`,
		`{"device": "wireless speaker"}`,
		`{"menu": "dropdown"}`,
		`{"place": "river embankment"}`,
		`{"lib": "tokenizer"}`,
		`{"note": "unremovable sticker"}`,
		`{"q": "nothing"}`,
	}
	for _, args := range benign {
		t.Run(args, func(t *testing.T) {
			a := s.Score("device.control", json.RawMessage(args), def)
			assert.InDelta(t, BaselineProbability, a.Probability, 1e-9)
			assert.Empty(t, a.Signals)
			assert.Less(t, a.Risk, 0.25, "普通词语不应触发人工确认")
		})
	}

	inflected := map[string]float64{
		`{"action": "files deleted"}`:      0.6,
		`{"op": "transfers pending"}`:      0.6,
		`{"field": "user_password"}`:       0.7,
		`{"cmd": "Format C:"}`:             0.6,
		`{"note": "online banking"}`:       0.6,
		`{"action": "wipes the schedule"}`: 0.6,
	}
	for args, want := range inflected {
		t.Run(args, func(t *testing.T) {
			a := s.Score("device.control", json.RawMessage(args), def)
			assert.InDelta(t, want, a.Probability, 1e-9)
		})
	}
}

func TestScorerHeuristicOnlyRaises(t *testing.T) {
	def := policy.SkillDefault{Severity: 0.5}
	var seen map[string]any
	low := NewScorer(func(_ string, args map[string]any) float64 {
		seen = args
		return 0.05
	}, false)
	a := low.Score("x", json.RawMessage(`{"cmd": "format disk"}`), def)
	assert.InDelta(t, 0.6, a.Probability, 1e-9)
	assert.Equal(t, "format disk", seen["cmd"])

	high := NewScorer(func(string, map[string]any) float64 { return 5 }, false)
	a = high.Score("x", nil, def)
	assert.InDelta(t, 1.0, a.Probability, 1e-9, "启发式结果被钳制到 [0,1]")
	assert.InDelta(t, 0.5, a.Risk, 1e-9)
	assert.Contains(t, a.Signals, "heuristic")
}

func TestScorerMalformedSkipsHeuristic(t *testing.T) {
	called := false
	s := NewScorer(func(string, map[string]any) float64 {
		called = true
		return 1
	}, false)
	a := s.Score("x", json.RawMessage(`{bad`), policy.SkillDefault{Severity: 1})
	assert.False(t, called)
	assert.True(t, a.MalformedArgs)
	assert.InDelta(t, BaselineProbability, a.Risk, 1e-9)
}
