// Package conversation 负责会话状态分类：从最近的对话轮次推导出
// 离散的丰富度层级（COLD/WARM/HOT）与连续的上下文价值分。
// 分类是纯函数，相同历史永远得到相同结果。
package conversation

import (
	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/textutil"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// Tier 会话丰富度层级
type Tier string

const (
	TierCold Tier = "COLD"
	TierWarm Tier = "WARM"
	TierHot  Tier = "HOT"
)

// Index 返回层级的序号，COLD < WARM < HOT。
func (t Tier) Index() int {
	switch t {
	case TierWarm:
		return 1
	case TierHot:
		return 2
	default:
		return 0
	}
}

// Metrics 从最近轮次窗口统计出的会话特征
type Metrics struct {
	// 窗口内的轮次数
	TurnCount int `json:"turn_count"`
	// 达到最小有效长度的轮次数
	SubstantiveTurns int `json:"substantive_turns"`
	// 有效轮次的平均长度（字符）
	AvgSubstantiveLen float64 `json:"avg_substantive_len"`
	// 有效轮次占比
	SubstantiveFraction float64 `json:"substantive_fraction"`
	// 不同发言者数量
	DistinctSpeakers int `json:"distinct_speakers"`
	// 相邻轮次的平均词面重叠度 [0,1]
	LexicalContinuity float64 `json:"lexical_continuity"`
}

// Config 分类器参数
type Config struct {
	// 读取的最近轮次窗口
	Window int
	// 有效发言的最小长度（字符）
	MinSubstantiveLen int
	// COLD 层级的最大轮次
	ColdMaxTurns int
	// WARM 层级的最大轮次
	WarmMaxTurns int
}

// DefaultConfig 返回默认分类参数
func DefaultConfig() Config {
	return Config{
		Window:            20,
		MinSubstantiveLen: 12,
		ColdMaxTurns:      3,
		WarmMaxTurns:      10,
	}
}

// Classifier 会话状态分类器。无内部状态，可并发使用。
type Classifier struct {
	cfg Config
}

// NewClassifier 创建分类器
func NewClassifier(cfg Config) *Classifier {
	if cfg.Window <= 0 {
		cfg.Window = 20
	}
	if cfg.ColdMaxTurns <= 0 {
		cfg.ColdMaxTurns = 3
	}
	if cfg.WarmMaxTurns <= cfg.ColdMaxTurns {
		cfg.WarmMaxTurns = cfg.ColdMaxTurns + 7
	}
	return &Classifier{cfg: cfg}
}

// Classify 返回层级与上下文价值分。
// 层级只由窗口内轮次数决定，保证追加轮次永不降级。
func (c *Classifier) Classify(turns []types.ConversationTurn) (Tier, float64) {
	m := c.Measure(turns)
	return c.tierOf(m.TurnCount), c.contextValue(m)
}

// Measure 统计窗口内的会话特征
func (c *Classifier) Measure(turns []types.ConversationTurn) Metrics {
	recent := turns
	if len(recent) > c.cfg.Window {
		recent = recent[len(recent)-c.cfg.Window:]
	}

	var m Metrics
	m.TurnCount = len(recent)
	if m.TurnCount == 0 {
		return m
	}

	speakers := make(map[string]struct{}, 4)
	totalSubstantiveLen := 0
	for _, turn := range recent {
		speakers[turn.SpeakerID] = struct{}{}
		if len(turn.Text) >= c.cfg.MinSubstantiveLen {
			m.SubstantiveTurns++
			totalSubstantiveLen += len(turn.Text)
		}
	}
	m.DistinctSpeakers = len(speakers)
	m.SubstantiveFraction = float64(m.SubstantiveTurns) / float64(m.TurnCount)
	if m.SubstantiveTurns > 0 {
		m.AvgSubstantiveLen = float64(totalSubstantiveLen) / float64(m.SubstantiveTurns)
	}

	// 相邻轮次的词面重叠：衡量话题延续性
	if m.TurnCount > 1 {
		total := 0.0
		pairs := 0
		prev := textutil.TokenSet(recent[0].Text)
		for i := 1; i < len(recent); i++ {
			cur := textutil.TokenSet(recent[i].Text)
			total += textutil.Jaccard(prev, cur)
			pairs++
			prev = cur
		}
		m.LexicalContinuity = total / float64(pairs)
	}

	return m
}

// tierOf 按轮次数划分层级
func (c *Classifier) tierOf(count int) Tier {
	switch {
	case count <= c.cfg.ColdMaxTurns:
		return TierCold
	case count <= c.cfg.WarmMaxTurns:
		return TierWarm
	default:
		return TierHot
	}
}

// contextValue 把各项特征折算成 [0,1] 的上下文价值分
func (c *Classifier) contextValue(m Metrics) float64 {
	if m.TurnCount == 0 {
		return 0
	}

	countScore := capRatio(float64(m.TurnCount), float64(c.cfg.Window))
	// 平均长度满分基线取最小有效长度的 6 倍
	lengthScore := capRatio(m.AvgSubstantiveLen, float64(c.cfg.MinSubstantiveLen)*6)
	speakerScore := capRatio(float64(m.DistinctSpeakers), 4)

	value := 0.30*countScore +
		0.20*lengthScore +
		0.15*m.SubstantiveFraction +
		0.15*speakerScore +
		0.20*m.LexicalContinuity

	if value > 1 {
		value = 1
	}
	if value < 0 {
		value = 0
	}
	return value
}

func capRatio(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	r := v / max
	if r > 1 {
		return 1
	}
	return r
}
