package types

import "strings"

// PersonaMultipliers 按人格缩放每层级的生成参数。
// 注意不包含 threshold：接受门槛由层级决定，保证所有人格在同一层级
// 共享同一条可比较的及格线。
type PersonaMultipliers struct {
	MaxLength  float64 `yaml:"max_length" json:"max_length"`
	Risk       float64 `yaml:"risk" json:"risk"`
	Strictness float64 `yaml:"strictness" json:"strictness"`
}

// DefaultMultipliers returns the identity multipliers (no adjustment).
func DefaultMultipliers() PersonaMultipliers {
	return PersonaMultipliers{MaxLength: 1.0, Risk: 1.0, Strictness: 1.0}
}

// Persona is a configured conversational identity the pipeline impersonates.
type Persona struct {
	ID               string             `yaml:"id" json:"id"`
	Name             string             `yaml:"name" json:"name"`
	DisplayName      string             `yaml:"display_name" json:"display_name"`
	SystemPrompt     string             `yaml:"system_prompt" json:"system_prompt"`
	VoiceMarkers     []string           `yaml:"voice_markers" json:"voice_markers"`
	TriggerWords     []string           `yaml:"trigger_words" json:"trigger_words"`
	FallbackLines    []string           `yaml:"fallback_lines" json:"fallback_lines"`
	InitiationWeight float64            `yaml:"initiation_weight" json:"initiation_weight"`
	Multipliers      PersonaMultipliers `yaml:"multipliers" json:"multipliers"`
}

// FallbackLine 返回该人格的确定性兜底台词。
// 始终取第一条配置台词，保证同一人格每次兜底输出一致。
func (p Persona) FallbackLine() string {
	for _, line := range p.FallbackLines {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	if p.DisplayName != "" {
		return p.DisplayName + " has nothing to add right now."
	}
	return "..."
}

// KnownNames returns every name the persona answers to, lowercased.
func (p Persona) KnownNames() []string {
	names := make([]string, 0, 2)
	if p.Name != "" {
		names = append(names, strings.ToLower(p.Name))
	}
	if p.DisplayName != "" && !strings.EqualFold(p.DisplayName, p.Name) {
		names = append(names, strings.ToLower(p.DisplayName))
	}
	return names
}
