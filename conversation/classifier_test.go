package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

func turnAt(channel, speaker, text string, ts time.Time) types.ConversationTurn {
	return types.ConversationTurn{
		ID:        speaker + ts.String(),
		ChannelID: channel,
		SpeakerID: speaker,
		Role:      types.RoleHuman,
		Text:      text,
		Timestamp: ts,
	}
}

func makeTurns(n int, text string) []types.ConversationTurn {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	turns := make([]types.ConversationTurn, 0, n)
	for i := 0; i < n; i++ {
		speaker := fmt.Sprintf("user-%d", i%3)
		turns = append(turns, turnAt("general", speaker, text, base.Add(time.Duration(i)*time.Minute)))
	}
	return turns
}

func TestClassifier_EmptyHistoryIsCold(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	tier, value := c.Classify(nil)
	assert.Equal(t, TierCold, tier)
	assert.Equal(t, 0.0, value)
}

func TestClassifier_TierCutoffs(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	tests := []struct {
		turns int
		want  Tier
	}{
		{0, TierCold},
		{1, TierCold},
		{3, TierCold},
		{4, TierWarm},
		{10, TierWarm},
		{11, TierHot},
		{25, TierHot},
	}
	for _, tt := range tests {
		tier, _ := c.Classify(makeTurns(tt.turns, "a perfectly ordinary message"))
		assert.Equal(t, tt.want, tier, "turns=%d", tt.turns)
	}
}

func TestClassifier_Measure(t *testing.T) {
	c := NewClassifier(Config{Window: 20, MinSubstantiveLen: 12, ColdMaxTurns: 3, WarmMaxTurns: 10})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	turns := []types.ConversationTurn{
		turnAt("general", "alice", "what do you think about the game", base),
		turnAt("general", "bob", "the game was great honestly", base.Add(time.Minute)),
		turnAt("general", "alice", "ok", base.Add(2*time.Minute)), // 低于有效长度
	}

	m := c.Measure(turns)
	assert.Equal(t, 3, m.TurnCount)
	assert.Equal(t, 2, m.SubstantiveTurns)
	assert.Equal(t, 2, m.DistinctSpeakers)
	assert.InDelta(t, 2.0/3.0, m.SubstantiveFraction, 1e-9)
	// 前两轮共享 the/game，延续性必须为正
	assert.Greater(t, m.LexicalContinuity, 0.0)
}

func TestClassifier_WindowBounds(t *testing.T) {
	c := NewClassifier(Config{Window: 5, MinSubstantiveLen: 12, ColdMaxTurns: 3, WarmMaxTurns: 10})

	m := c.Measure(makeTurns(50, "a long enough message body"))
	// 只统计窗口内的轮次
	assert.Equal(t, 5, m.TurnCount)
}

func TestClassifier_RicherContextScoresHigher(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	_, sparse := c.Classify(makeTurns(2, "hm"))
	_, rich := c.Classify(makeTurns(15, "a substantial reply with plenty of shared words about the game"))

	require.Greater(t, rich, sparse)
}

// 只追加轮次时层级永不降级
func TestClassifier_TierMonotonicity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := NewClassifier(DefaultConfig())

		initial := rapid.IntRange(0, 15).Draw(rt, "initial")
		added := rapid.IntRange(1, 15).Draw(rt, "added")
		text := rapid.StringN(0, 80, -1).Draw(rt, "text")

		history := makeTurns(initial, text)
		before, _ := c.Classify(history)

		// 追加只会增加轮次，substance 不低于原有轮次
		grown := append(history, makeTurns(added, text+" and then some")...)
		after, _ := c.Classify(grown)

		assert.GreaterOrEqual(rt, after.Index(), before.Index(),
			"tier downgraded from %s to %s after adding turns", before, after)
	})
}

// 上下文价值分永远落在 [0,1]
func TestClassifier_ContextValueBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := NewClassifier(DefaultConfig())

		n := rapid.IntRange(0, 40).Draw(rt, "n")
		text := rapid.StringN(0, 500, -1).Draw(rt, "text")

		_, value := c.Classify(makeTurns(n, text))
		assert.GreaterOrEqual(rt, value, 0.0)
		assert.LessOrEqual(rt, value, 1.0)
	})
}
