package policy

import (
	"fmt"
	"strings"
)

// HarmType 是危害类别的位集合，可以组合。
type HarmType uint8

const (
	HarmPhysical HarmType = 1 << iota
	HarmPrivacy
	HarmFinancial
	HarmPsychological
	HarmEnvironmental
	HarmSecurity

	HarmNone HarmType = 0
)

var harmNames = []struct {
	flag HarmType
	name string
}{
	{HarmPhysical, "physical"},
	{HarmPrivacy, "privacy"},
	{HarmFinancial, "financial"},
	{HarmPsychological, "psychological"},
	{HarmEnvironmental, "environmental"},
	{HarmSecurity, "security"},
}

// Has 判断 h 是否包含 flag 中的全部位。
func (h HarmType) Has(flag HarmType) bool {
	return flag != 0 && h&flag == flag
}

// String 输出 "privacy|security" 形式，空集合输出 "none"。
func (h HarmType) String() string {
	if h == HarmNone {
		return "none"
	}
	parts := make([]string, 0, len(harmNames))
	for _, hn := range harmNames {
		if h.Has(hn.flag) {
			parts = append(parts, hn.name)
		}
	}
	return strings.Join(parts, "|")
}

// MarshalText 让 HarmType 在 JSON 中以可读形式出现。
func (h HarmType) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText 是 MarshalText 的逆操作。
func (h *HarmType) UnmarshalText(text []byte) error {
	parsed, err := ParseHarmType(strings.Split(string(text), "|")...)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHarmType 将名称列表 (大小写不敏感) 合并为位集合。
func ParseHarmType(names ...string) (HarmType, error) {
	var out HarmType
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || name == "none" {
			continue
		}
		found := false
		for _, hn := range harmNames {
			if hn.name == name {
				out |= hn.flag
				found = true
				break
			}
		}
		if !found {
			return HarmNone, fmt.Errorf("未知的危害类别: %q", raw)
		}
	}
	return out, nil
}
