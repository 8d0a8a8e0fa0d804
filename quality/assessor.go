package quality

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ===== 📊 评分域 =====

const (
	// ScoreFloor / ScoreCeiling 评分的硬边界
	ScoreFloor   = 1.0
	ScoreCeiling = 100.0
	// ScoreBase 所有候选的起始分
	ScoreBase = 50.0
	// metaLeakFloor 机器痕迹泄漏的压底分：其余检查表现再好也抬不回来
	metaLeakFloor = 5.0
	// duplicateScore 去重命中时合成结论的固定分
	duplicateScore = 10.0
)

// Assessment 一次评审的结论。Issues 与 Strengths 按标签排序，
// 保证相同输入产出逐字节相同的结论。
type Assessment struct {
	Score     float64   `json:"score"`
	Issues    []Finding `json:"issues,omitempty"`
	Strengths []Finding `json:"strengths,omitempty"`
}

// Passes 是否达到给定接受门槛
func (a Assessment) Passes(threshold float64) bool {
	return a.Score >= threshold
}

// HasIssue 是否包含指定标签的问题
func (a Assessment) HasIssue(tag string) bool {
	for _, f := range a.Issues {
		if f.Tag == tag {
			return true
		}
	}
	return false
}

// IssueTags 返回全部问题标签，供反馈构造与日志使用
func (a Assessment) IssueTags() []string {
	tags := make([]string, 0, len(a.Issues))
	for _, f := range a.Issues {
		tags = append(tags, f.Tag)
	}
	return tags
}

// Assessor 逐项运行命名检查并折算总分。纯函数评审：
// 无 IO、无随机、无时钟，日志只描述结论不参与计算。
type Assessor struct {
	checks []namedCheck
	logger *zap.Logger
}

// NewAssessor 创建带标准检查集的评审器。
func NewAssessor(logger *zap.Logger) *Assessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assessor{
		logger: logger.With(zap.String("component", "quality_assessor")),
		checks: []namedCheck{
			{"self_reference", checkSelfReference},
			{"self_addressing", checkSelfAddressing},
			{"meta_leakage", checkMetaLeakage},
			{"speaker_bleed", checkSpeakerBleed},
			{"self_continuation", checkSelfContinuation},
			{"misattributed_address", checkMisattributedAddress},
			{"length", checkLength},
			{"repetition", checkRepetition},
			{"voice", checkVoice},
			{"engagement", checkEngagement},
			{"generic", checkGeneric},
		},
	}
}

// Assess 评审一条候选回复。
// 各检查互相独立；机器痕迹命中后触发压底覆盖，最后裁剪进 [1,100]。
func (a *Assessor) Assess(in Input) Assessment {
	if strings.TrimSpace(in.Candidate) == "" {
		return Assessment{
			Score: ScoreFloor,
			Issues: []Finding{{
				Tag:    TagGeneric,
				Detail: "empty candidate",
				Delta:  ScoreFloor - ScoreBase,
			}},
		}
	}

	score := ScoreBase
	var out Assessment
	metaHit := false

	for _, c := range a.checks {
		for _, f := range c.fn(in) {
			score += f.Delta
			if f.Tag == TagMetaLeakage {
				metaHit = true
			}
			if f.Delta < 0 {
				out.Issues = append(out.Issues, f)
			} else {
				out.Strengths = append(out.Strengths, f)
			}
		}
	}

	if metaHit && score > metaLeakFloor {
		score = metaLeakFloor
	}
	out.Score = clampScore(score)
	sortFindings(out.Issues)
	sortFindings(out.Strengths)

	if len(out.Issues) > 0 {
		a.logger.Debug("candidate assessed with issues",
			zap.String("persona", in.Persona.ID),
			zap.Float64("score", out.Score),
			zap.Strings("issues", out.IssueTags()),
		)
	}
	return out
}

// DuplicateAssessment 去重短路时合成的评审结论。
// 候选未经过逐项检查，直接记一条 duplicate 问题并给固定低分。
func DuplicateAssessment(similarity float64) Assessment {
	return Assessment{
		Score: duplicateScore,
		Issues: []Finding{{
			Tag:    TagDuplicate,
			Detail: fmt.Sprintf("%.0f%% token overlap with a recent reply", similarity*100),
			Delta:  duplicateScore - ScoreBase,
		}},
	}
}

func clampScore(v float64) float64 {
	if v < ScoreFloor {
		return ScoreFloor
	}
	if v > ScoreCeiling {
		return ScoreCeiling
	}
	return v
}

// sortFindings 按标签稳定排序，标签相同再比详情
func sortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		if fs[i].Tag != fs[j].Tag {
			return fs[i].Tag < fs[j].Tag
		}
		return fs[i].Detail < fs[j].Detail
	})
}
