package orchestrator

import (
	"fmt"
	"strings"

	"github.com/DapeSec/Discord-PG-Bot-sub001/quality"
)

// Feedback 携带上一轮被拒候选的完整复盘,注入下一次生成提示。
// Instruction 只挑一条:一次塞太多纠偏指令反而稀释每一条的权重。
type Feedback struct {
	PrevCandidate string   `json:"prev_candidate"`
	PrevScore     float64  `json:"prev_score"`
	Issues        []string `json:"issues"`
	Instruction   string   `json:"instruction"`
}

// buildFeedback turns a rejected attempt into the next attempt's feedback.
func buildFeedback(candidate string, assessment quality.Assessment, maxLength int) *Feedback {
	return &Feedback{
		PrevCandidate: candidate,
		PrevScore:     assessment.Score,
		Issues:        assessment.IssueTags(),
		Instruction:   correctiveInstruction(assessment, maxLength),
	}
}

// correctiveInstruction 按固定优先级挑一条纠偏指令:
// 长度 > 自指 > 自我称呼 > 复读 > 换角度(近重复) > 空泛。
// 其余问题(冒充他人、泄漏痕迹)都归结为最后的兜底指令。
func correctiveInstruction(a quality.Assessment, maxLength int) string {
	switch {
	case a.HasIssue(quality.TagOverLength):
		return fmt.Sprintf("Keep the reply under %d characters.", maxLength)
	case a.HasIssue(quality.TagSelfReference):
		return "Never talk about yourself in the third person. Speak as \"I\"."
	case a.HasIssue(quality.TagSelfAddressing):
		return "You are speaking to the others, not to yourself. Do not greet or address yourself by name."
	case a.HasIssue(quality.TagRepetition):
		return "Do not repeat yourself. Every sentence must add something new."
	case a.HasIssue(quality.TagDuplicate):
		return "You already said something very similar recently. Take a different angle on the topic."
	case a.HasIssue(quality.TagGeneric):
		return "Be specific and concrete. Drop the filler phrases."
	default:
		return "Reply only in your own voice, in first person, without quoting or speaking for anyone else."
	}
}

// Render serializes the feedback into the prompt's corrective paragraph.
func (f *Feedback) Render() string {
	if f == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("Your previous attempt was rejected.\n")
	fmt.Fprintf(&b, "Previous attempt (scored %.0f/100): %s\n", f.PrevScore, f.PrevCandidate)
	if len(f.Issues) > 0 {
		fmt.Fprintf(&b, "Problems: %s\n", strings.Join(f.Issues, ", "))
	}
	b.WriteString("Fix this: " + f.Instruction)
	return b.String()
}
