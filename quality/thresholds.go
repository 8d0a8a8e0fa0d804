// Package quality 实现自适应质量控制：把会话层级换算成本次请求的
// 生成与接受参数，并对候选回复逐项评审打分。
package quality

import (
	"fmt"
	"math"

	"github.com/DapeSec/Discord-PG-Bot-sub001/conversation"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// Settings 单次请求的生成与接受参数。派生后不可变。
type Settings struct {
	Tier               conversation.Tier `json:"tier"`
	Threshold          float64           `json:"threshold"`
	ConversationWeight float64           `json:"conversation_weight"`
	KnowledgeWeight    float64           `json:"knowledge_weight"`
	MaxLength          int               `json:"max_length"`
	Risk               float64           `json:"risk"`
	Strictness         float64           `json:"strictness"`
}

// weightSumTolerance 权重和允许的浮点误差
const weightSumTolerance = 1e-6

// DefaultTable 返回默认的层级参数表。
// 层级越热：门槛越高、回复越长、评审越严格；冷场时知识权重占主导。
func DefaultTable() map[conversation.Tier]Settings {
	return map[conversation.Tier]Settings{
		conversation.TierCold: {
			Tier:               conversation.TierCold,
			Threshold:          50,
			ConversationWeight: 0.3,
			KnowledgeWeight:    0.7,
			MaxLength:          180,
			Risk:               0.3,
			Strictness:         0.5,
		},
		conversation.TierWarm: {
			Tier:               conversation.TierWarm,
			Threshold:          60,
			ConversationWeight: 0.5,
			KnowledgeWeight:    0.5,
			MaxLength:          280,
			Risk:               0.5,
			Strictness:         0.65,
		},
		conversation.TierHot: {
			Tier:               conversation.TierHot,
			Threshold:          68,
			ConversationWeight: 0.7,
			KnowledgeWeight:    0.3,
			MaxLength:          400,
			Risk:               0.7,
			Strictness:         0.8,
		},
	}
}

// Calculator 把层级、上下文价值和人格折算成 Settings。
// 人格倍率只作用于 max_length / risk / strictness；
// threshold 由层级唯一决定，保证同层级所有人格共享一条及格线。
type Calculator struct {
	base        map[conversation.Tier]Settings
	multipliers map[string]types.PersonaMultipliers
}

// NewCalculator 创建计算器，校验基表的权重和与门槛单调性。
func NewCalculator(base map[conversation.Tier]Settings, personas []types.Persona) (*Calculator, error) {
	if base == nil {
		base = DefaultTable()
	}
	for _, tier := range []conversation.Tier{conversation.TierCold, conversation.TierWarm, conversation.TierHot} {
		s, ok := base[tier]
		if !ok {
			return nil, fmt.Errorf("tier table missing entry for %s", tier)
		}
		sum := s.ConversationWeight + s.KnowledgeWeight
		if math.Abs(sum-1.0) > weightSumTolerance {
			return nil, fmt.Errorf("tier %s weights sum to %.6f, expected 1.0", tier, sum)
		}
		if s.Threshold < 1 || s.Threshold > 100 {
			return nil, fmt.Errorf("tier %s threshold %.1f outside [1,100]", tier, s.Threshold)
		}
	}
	if base[conversation.TierCold].Threshold > base[conversation.TierWarm].Threshold ||
		base[conversation.TierWarm].Threshold > base[conversation.TierHot].Threshold {
		return nil, fmt.Errorf("tier thresholds must be non-decreasing COLD→WARM→HOT")
	}

	mult := make(map[string]types.PersonaMultipliers, len(personas))
	for _, p := range personas {
		mult[p.ID] = normalizeMultipliers(p.Multipliers)
	}

	return &Calculator{base: base, multipliers: mult}, nil
}

// Settings 派生本次请求的参数。
// contextValue 在层级内部微调会话/知识权重（±0.05），权重和保持 1.0。
func (c *Calculator) Settings(tier conversation.Tier, contextValue float64, personaID string) Settings {
	s, ok := c.base[tier]
	if !ok {
		s = c.base[conversation.TierCold]
	}

	// 上下文越充分，会话权重越高；幅度刻意压小，层级仍是主导
	shift := (clamp01(contextValue) - 0.5) * 0.1
	s.ConversationWeight = clamp01(s.ConversationWeight + shift)
	s.KnowledgeWeight = 1.0 - s.ConversationWeight

	if m, ok := c.multipliers[personaID]; ok {
		s.MaxLength = int(math.Round(float64(s.MaxLength) * m.MaxLength))
		s.Risk = clamp01(s.Risk * m.Risk)
		s.Strictness = clamp01(s.Strictness * m.Strictness)
	}
	if s.MaxLength < 1 {
		s.MaxLength = 1
	}

	return s
}

// normalizeMultipliers 把零值倍率还原成 1.0，避免配置缺省导致参数归零
func normalizeMultipliers(m types.PersonaMultipliers) types.PersonaMultipliers {
	if m.MaxLength <= 0 {
		m.MaxLength = 1.0
	}
	if m.Risk <= 0 {
		m.Risk = 1.0
	}
	if m.Strictness <= 0 {
		m.Strictness = 1.0
	}
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
