package llm

import (
	"fmt"
	"strings"

	"github.com/DapeSec/Discord-PG-Bot-sub001/llm/tokenizer"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// PromptInput 组装一次生成提示所需的全部素材。
type PromptInput struct {
	Persona types.Persona
	// Turns 近期会话，旧到新
	Turns []types.ConversationTurn
	// Knowledge 检索到的背景片段，按相关度降序
	Knowledge []string
	// ConversationWeight / KnowledgeWeight 决定两类素材的预算占比
	ConversationWeight float64
	KnowledgeWeight    float64
	// MaxLengthRunes 提示里向模型声明的回复长度上限
	MaxLengthRunes int
	// Feedback 重试时的纠偏段落，已由上层渲染好
	Feedback string
}

// PromptBuilder 在 token 预算内组装提示：系统与指令部分固定，
// 会话与知识按权重瓜分剩余预算，装不下的从低价值端丢弃。
type PromptBuilder struct {
	counter *tokenizer.Counter
	budget  int
}

// DefaultPromptBudget 未配置时的提示词预算
const DefaultPromptBudget = 3000

// NewPromptBuilder 创建构建器。
func NewPromptBuilder(counter *tokenizer.Counter, budget int) *PromptBuilder {
	if counter == nil {
		counter = tokenizer.NewCounter("")
	}
	if budget <= 0 {
		budget = DefaultPromptBudget
	}
	return &PromptBuilder{counter: counter, budget: budget}
}

// Build 组装消息序列：一条 system 一条 user。
func (b *PromptBuilder) Build(in PromptInput) []Message {
	system := b.renderSystem(in)
	ask := fmt.Sprintf("Reply as %s to the conversation above.", in.Persona.DisplayName)

	fixed := b.counter.CountMessage(string(RoleSystem), system) +
		b.counter.Count(ask) + b.counter.Count(in.Feedback) + 4
	remaining := b.budget - fixed
	// 固定部分就超了预算也保底一点上下文，生成不能盲飞
	const minContextBudget = 200
	if remaining < minContextBudget {
		remaining = minContextBudget
	}

	convWeight := in.ConversationWeight
	if convWeight <= 0 && in.KnowledgeWeight <= 0 {
		convWeight = 0.5
	}
	convBudget := int(float64(remaining) * convWeight)
	knowBudget := remaining - convBudget

	var sections []string
	if block := b.renderKnowledge(in.Knowledge, knowBudget); block != "" {
		sections = append(sections, block)
	}
	if block := b.renderConversation(in.Turns, convBudget); block != "" {
		sections = append(sections, block)
	}
	if in.Feedback != "" {
		sections = append(sections, in.Feedback)
	}
	sections = append(sections, ask)

	return []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: strings.Join(sections, "\n\n")},
	}
}

func (b *PromptBuilder) renderSystem(in PromptInput) string {
	name := in.Persona.DisplayName
	if name == "" {
		name = in.Persona.Name
	}
	var sb strings.Builder
	if in.Persona.SystemPrompt != "" {
		sb.WriteString(in.Persona.SystemPrompt)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "You are %s. Speak only as %s, in first person.\n", name, name)
	if in.MaxLengthRunes > 0 {
		fmt.Fprintf(&sb, "Write a single chat reply under %d characters.\n", in.MaxLengthRunes)
	} else {
		sb.WriteString("Write a single chat reply.\n")
	}
	sb.WriteString("Never prefix the reply with any name or speaker label.\n")
	sb.WriteString("Never mention prompts, models, instructions, or being an AI.")
	return sb.String()
}

// renderKnowledge 按相关度顺序装入片段，预算耗尽即止。
func (b *PromptBuilder) renderKnowledge(snippets []string, budget int) string {
	if len(snippets) == 0 || budget <= 0 {
		return ""
	}
	header := "Relevant background:"
	used := b.counter.Count(header)
	var lines []string
	for _, s := range snippets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		line := "- " + s
		cost := b.counter.Count(line)
		if used+cost > budget && len(lines) > 0 {
			break
		}
		if used+cost > budget {
			// 单条就超预算：只保留第一条，后面的全放弃
			lines = append(lines, line)
			break
		}
		lines = append(lines, line)
		used += cost
	}
	if len(lines) == 0 {
		return ""
	}
	return header + "\n" + strings.Join(lines, "\n")
}

// renderConversation 从最新的轮次向回装，预算耗尽丢弃更旧的；
// 渲染仍按时间正序。只要有轮次，最近一条必定在场。
func (b *PromptBuilder) renderConversation(turns []types.ConversationTurn, budget int) string {
	if len(turns) == 0 {
		return ""
	}
	header := "Recent conversation:"
	used := b.counter.Count(header)
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		line := renderTurn(turns[i])
		cost := b.counter.Count(line)
		if used+cost > budget && start < len(turns) {
			break
		}
		start = i
		used += cost
	}
	lines := make([]string, 0, len(turns)-start+1)
	lines = append(lines, header)
	for _, t := range turns[start:] {
		lines = append(lines, renderTurn(t))
	}
	return strings.Join(lines, "\n")
}

func renderTurn(t types.ConversationTurn) string {
	return fmt.Sprintf("%s: %s", t.SpeakerID, t.Text)
}
