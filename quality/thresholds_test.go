package quality

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/DapeSec/Discord-PG-Bot-sub001/conversation"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

func testPersonas() []types.Persona {
	return []types.Persona{
		{
			ID:   "peter",
			Name: "Peter",
			Multipliers: types.PersonaMultipliers{
				MaxLength:  0.8,
				Risk:       1.2,
				Strictness: 0.9,
			},
		},
		{
			ID:          "brian",
			Name:        "Brian",
			Multipliers: types.DefaultMultipliers(),
		},
	}
}

func TestNewCalculator_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(m map[conversation.Tier]Settings)
		wantErr string
	}{
		{
			name:    "默认表有效",
			mutate:  func(m map[conversation.Tier]Settings) {},
			wantErr: "",
		},
		{
			name: "缺少层级",
			mutate: func(m map[conversation.Tier]Settings) {
				delete(m, conversation.TierWarm)
			},
			wantErr: "missing entry",
		},
		{
			name: "权重和不为一",
			mutate: func(m map[conversation.Tier]Settings) {
				s := m[conversation.TierHot]
				s.ConversationWeight = 0.7
				s.KnowledgeWeight = 0.4
				m[conversation.TierHot] = s
			},
			wantErr: "weights sum",
		},
		{
			name: "门槛越界",
			mutate: func(m map[conversation.Tier]Settings) {
				s := m[conversation.TierCold]
				s.Threshold = 0
				m[conversation.TierCold] = s
			},
			wantErr: "outside [1,100]",
		},
		{
			name: "门槛顺序倒挂",
			mutate: func(m map[conversation.Tier]Settings) {
				cold := m[conversation.TierCold]
				hot := m[conversation.TierHot]
				cold.Threshold, hot.Threshold = hot.Threshold, cold.Threshold
				m[conversation.TierCold] = cold
				m[conversation.TierHot] = hot
			},
			wantErr: "non-decreasing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			table := DefaultTable()
			tt.mutate(table)
			_, err := NewCalculator(table, testPersonas())
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCalculator_ColdBaseline(t *testing.T) {
	t.Parallel()

	calc, err := NewCalculator(nil, testPersonas())
	require.NoError(t, err)

	// 空历史：COLD 层、基线门槛 50
	s := calc.Settings(conversation.TierCold, 0, "brian")
	assert.Equal(t, conversation.TierCold, s.Tier)
	assert.InDelta(t, 50.0, s.Threshold, 1e-9)
	assert.InDelta(t, 1.0, s.ConversationWeight+s.KnowledgeWeight, weightSumTolerance)
}

func TestCalculator_PersonaMultipliersScopeLimited(t *testing.T) {
	t.Parallel()

	calc, err := NewCalculator(nil, testPersonas())
	require.NoError(t, err)

	base := calc.Settings(conversation.TierWarm, 0.5, "brian")
	tuned := calc.Settings(conversation.TierWarm, 0.5, "peter")

	// 倍率只动 max_length / risk / strictness
	assert.Equal(t, base.Threshold, tuned.Threshold, "threshold 只由层级决定")
	assert.Equal(t, base.ConversationWeight, tuned.ConversationWeight)
	assert.Equal(t, base.KnowledgeWeight, tuned.KnowledgeWeight)

	assert.Equal(t, int(math.Round(float64(base.MaxLength)*0.8)), tuned.MaxLength)
	assert.InDelta(t, base.Risk*1.2, tuned.Risk, 1e-9)
	assert.InDelta(t, base.Strictness*0.9, tuned.Strictness, 1e-9)
}

func TestCalculator_UnknownPersonaUsesBase(t *testing.T) {
	t.Parallel()

	calc, err := NewCalculator(nil, testPersonas())
	require.NoError(t, err)

	s := calc.Settings(conversation.TierHot, 0.5, "nobody")
	base := DefaultTable()[conversation.TierHot]
	assert.Equal(t, base.MaxLength, s.MaxLength)
	assert.InDelta(t, base.Risk, s.Risk, 1e-9)
}

func TestCalculator_ThresholdMonotonicAcrossTiers(t *testing.T) {
	t.Parallel()

	calc, err := NewCalculator(nil, testPersonas())
	require.NoError(t, err)

	for _, persona := range []string{"peter", "brian", "nobody"} {
		cold := calc.Settings(conversation.TierCold, 0.4, persona)
		warm := calc.Settings(conversation.TierWarm, 0.4, persona)
		hot := calc.Settings(conversation.TierHot, 0.4, persona)
		assert.LessOrEqual(t, cold.Threshold, warm.Threshold)
		assert.LessOrEqual(t, warm.Threshold, hot.Threshold)
	}
}

func TestCalculator_ClampsDerivedValues(t *testing.T) {
	t.Parallel()

	personas := []types.Persona{{
		ID:   "extreme",
		Name: "Extreme",
		Multipliers: types.PersonaMultipliers{
			MaxLength:  0.001,
			Risk:       10.0,
			Strictness: 10.0,
		},
	}}
	calc, err := NewCalculator(nil, personas)
	require.NoError(t, err)

	s := calc.Settings(conversation.TierCold, 1.0, "extreme")
	assert.GreaterOrEqual(t, s.MaxLength, 1, "max_length 不得低于 1")
	assert.LessOrEqual(t, s.Risk, 1.0)
	assert.LessOrEqual(t, s.Strictness, 1.0)
}

// TestCalculator_WeightSumInvariant 任意层级、上下文价值与人格组合下
// 权重和恒等于 1.0。
func TestCalculator_WeightSumInvariant(t *testing.T) {
	t.Parallel()

	calc, err := NewCalculator(nil, testPersonas())
	require.NoError(t, err)

	tiers := []conversation.Tier{conversation.TierCold, conversation.TierWarm, conversation.TierHot}
	rapid.Check(t, func(rt *rapid.T) {
		tier := tiers[rapid.IntRange(0, len(tiers)-1).Draw(rt, "tier")]
		cv := rapid.Float64Range(-1, 2).Draw(rt, "contextValue")
		persona := rapid.SampledFrom([]string{"peter", "brian", "ghost"}).Draw(rt, "persona")

		s := calc.Settings(tier, cv, persona)
		if math.Abs(s.ConversationWeight+s.KnowledgeWeight-1.0) > weightSumTolerance {
			rt.Fatalf("weight sum drifted: %f + %f", s.ConversationWeight, s.KnowledgeWeight)
		}
		if s.ConversationWeight < 0 || s.ConversationWeight > 1 {
			rt.Fatalf("conversation weight out of range: %f", s.ConversationWeight)
		}
	})
}
