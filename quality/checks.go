package quality

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/textutil"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// ===== 🏷️ 检查标签 =====

const (
	TagSelfReference        = "self_reference"        // 第三人称提及自己
	TagSelfAddressing       = "self_addressing"       // 向自己打招呼
	TagMetaLeakage          = "meta_leakage"          // 机器输出痕迹泄漏
	TagSpeakerBleed         = "speaker_bleed"         // 冒充其他发言者
	TagSelfContinuation     = "self_continuation"     // 接续自己上一条消息
	TagMisattributedAddress = "misattributed_address" // 称呼不在场的人
	TagOverLength           = "over_length"           // 超出长度上限
	TagLengthOK             = "length_ok"             // 长度达标
	TagRepetition           = "repetition"            // 句内重复
	TagOnVoice              = "on_voice"              // 命中人格语癖
	TagOffVoice             = "off_voice"             // 缺失人格语癖
	TagEngaged              = "engaged"               // 回应感强
	TagMonologue            = "monologue"             // 自说自话
	TagDuplicate            = "duplicate"             // 与近期回复重复
	TagGeneric              = "generic"               // 内容空泛
)

// Finding 单项检查的命中结果。Delta 为对基准分的调整量。
type Finding struct {
	Tag    string  `json:"tag"`
	Detail string  `json:"detail,omitempty"`
	Delta  float64 `json:"delta"`
}

// Input 一次评审的完整输入。评审是纯函数：相同输入必得相同结论。
type Input struct {
	Persona       types.Persona
	Candidate     string
	Context       []types.ConversationTurn
	LastSpeakerID string
	Settings      Settings
}

// participants 返回近期上下文中出现过的发言者（小写）
func (in Input) participants() map[string]struct{} {
	set := make(map[string]struct{}, len(in.Context)+1)
	for _, t := range in.Context {
		set[strings.ToLower(t.SpeakerID)] = struct{}{}
	}
	if in.LastSpeakerID != "" {
		set[strings.ToLower(in.LastSpeakerID)] = struct{}{}
	}
	return set
}

// checkFunc 一项命名检查。互相独立，各自产出零或多条 Finding。
type checkFunc func(in Input) []Finding

// namedCheck 检查名用于日志与调试，不参与打分
type namedCheck struct {
	name string
	fn   checkFunc
}

// ===== ⚖️ 惩罚幅度 =====
//
// 严重违规（人格崩坏类）单项即足以跌破任何层级的门槛；
// 软性问题按 Strictness 缩放，见 scaled。

const (
	penaltySevere       = -30.0
	penaltyModerate     = -12.0
	penaltyMisattribute = -10.0
	penaltyRepetition   = -10.0
	penaltyOffVoice     = -4.0
	penaltyMonologue    = -3.0
	bonusLength         = +5.0
	bonusOnVoice        = +4.0
	bonusEngaged        = +3.0
)

// scaled 软性惩罚按评审严格度缩放：strictness 0.5 为中性
func scaled(penalty, strictness float64) float64 {
	return penalty * (0.5 + strictness)
}

// thirdPersonVerbs 自指检查用的第三人称谓语
var thirdPersonVerbs = []string{
	"thinks", "think", "says", "said", "believes", "wants", "is", "was",
	"has", "feels", "likes", "loves", "hates", "would", "will", "can",
	"doesn't", "isn't", "won't",
}

// checkSelfReference 人格以第三人称提及自己（"Peter thinks ..."）。
// 角色崩坏的最直接信号，一票重罚。
func checkSelfReference(in Input) []Finding {
	lower := " " + textutil.Normalize(in.Candidate) + " "
	for _, name := range in.Persona.KnownNames() {
		for _, verb := range thirdPersonVerbs {
			phrase := " " + name + " " + textutil.Normalize(verb) + " "
			if strings.Contains(lower, phrase) {
				return []Finding{{
					Tag:    TagSelfReference,
					Detail: fmt.Sprintf("refers to self in third person: %q", strings.TrimSpace(phrase)),
					Delta:  penaltySevere,
				}}
			}
		}
		// 所有格形式（"Peter's idea"）同样视为自指
		if strings.Contains(strings.ToLower(in.Candidate), name+"'s ") {
			return []Finding{{
				Tag:    TagSelfReference,
				Detail: fmt.Sprintf("possessive self-reference: %q", name+"'s"),
				Delta:  penaltySevere,
			}}
		}
	}
	return nil
}

// greetingRe 捕获打招呼后面跟的名字
var greetingRe = regexp.MustCompile(`(?i)\b(hey|hi|hello|yo|listen|look)[,!]?\s+([a-z][a-z'\-]{1,20})\b`)

// leadingAddressRe 句首直呼其名（"Peter, ..."）
var leadingAddressRe = regexp.MustCompile(`^\s*([A-Z][a-z'\-]{1,20}),\s`)

// checkSelfAddressing 人格向自己打招呼（"Hey Peter"）。
func checkSelfAddressing(in Input) []Finding {
	own := make(map[string]struct{})
	for _, n := range in.Persona.KnownNames() {
		own[n] = struct{}{}
	}
	for _, m := range greetingRe.FindAllStringSubmatch(in.Candidate, -1) {
		if _, hit := own[strings.ToLower(m[2])]; hit {
			return []Finding{{
				Tag:    TagSelfAddressing,
				Detail: fmt.Sprintf("addresses self: %q", strings.TrimSpace(m[0])),
				Delta:  penaltySevere,
			}}
		}
	}
	if m := leadingAddressRe.FindStringSubmatch(in.Candidate); m != nil {
		if _, hit := own[strings.ToLower(m[1])]; hit {
			return []Finding{{
				Tag:    TagSelfAddressing,
				Detail: fmt.Sprintf("opens by addressing self: %q", m[1]),
				Delta:  penaltySevere,
			}}
		}
	}
	return nil
}

// metaMarkers 机器输出痕迹。任何一条命中都说明生成层在"出戏"，
// 此类候选无论其余检查表现如何都不允许接近门槛。
var metaMarkers = []string{
	"as an ai", "as a language model", "as an assistant", "language model",
	"i cannot assist", "i can't assist", "i'm sorry, but i", "i am sorry, but i",
	"my programming", "my training data", "i don't have personal",
	"i do not have personal", "system prompt", "openai", "anthropic",
	"[inst]", "<|", "i'm not able to provide", "i am not able to provide",
	"cannot fulfill", "ethical guidelines",
}

// checkMetaLeakage 扫描机器痕迹标记。命中触发评审器的压底覆盖。
func checkMetaLeakage(in Input) []Finding {
	lower := strings.ToLower(in.Candidate)
	for _, marker := range metaMarkers {
		if strings.Contains(lower, marker) {
			return []Finding{{
				Tag:    TagMetaLeakage,
				Detail: fmt.Sprintf("machine marker %q", marker),
				Delta:  penaltySevere,
			}}
		}
	}
	return nil
}

// speakerLineRe 捕获"Name:"开头的对话行（行首或句末之后）
var speakerLineRe = regexp.MustCompile(`(?:^|[\n.!?]\s+|\n\s*)([A-Z][A-Za-z'\-]{1,20}):\s+\S`)

// bleedAllowlist 常见的非人名行首标记
var bleedAllowlist = map[string]struct{}{
	"note": {}, "warning": {}, "ps": {}, "update": {}, "edit": {},
	"tldr": {}, "spoiler": {}, "fact": {},
}

// checkSpeakerBleed 候选里替别的发言者代言（"Brian: ..."）。
// 一条回复只允许一个声音，任何层级都直接出局。
func checkSpeakerBleed(in Input) []Finding {
	own := make(map[string]struct{})
	for _, n := range in.Persona.KnownNames() {
		own[n] = struct{}{}
	}
	m := speakerLineRe.FindStringSubmatch(in.Candidate)
	if m == nil {
		return nil
	}
	name := strings.ToLower(m[1])
	if _, allowed := bleedAllowlist[name]; allowed {
		return nil
	}
	if _, self := own[name]; self {
		// 连自己的名字都不该出现在台词标签里
		return []Finding{{
			Tag:    TagSpeakerBleed,
			Detail: fmt.Sprintf("script-style line tag %q", m[1]+":"),
			Delta:  penaltySevere,
		}}
	}
	return []Finding{{
		Tag:    TagSpeakerBleed,
		Detail: fmt.Sprintf("speaks for %q", m[1]),
		Delta:  penaltySevere,
	}}
}

// continuationOpeners 接续语气的开场词
var continuationOpeners = []string{
	"and ", "also ", "plus ", "besides ", "anyway ", "oh and ", "another thing",
}

// checkSelfContinuation 上一条消息就是本人时，再用接续语气开场
// 会读成同一条消息被拆成两半。
func checkSelfContinuation(in Input) []Finding {
	if !strings.EqualFold(in.LastSpeakerID, in.Persona.ID) {
		return nil
	}
	lower := strings.ToLower(strings.TrimSpace(in.Candidate))
	for _, opener := range continuationOpeners {
		if strings.HasPrefix(lower, opener) {
			return []Finding{{
				Tag:    TagSelfContinuation,
				Detail: fmt.Sprintf("continues own previous message with %q", strings.TrimSpace(opener)),
				Delta:  penaltyModerate,
			}}
		}
	}
	return nil
}

// addressStopwords 打招呼后面跟的泛称，不算指名道姓
var addressStopwords = map[string]struct{}{
	"man": {}, "buddy": {}, "guys": {}, "everyone": {}, "everybody": {},
	"all": {}, "folks": {}, "pal": {}, "dude": {}, "you": {}, "there": {},
	"here": {}, "now": {}, "what": {}, "who": {}, "at": {}, "up": {},
}

// checkMisattributedAddress 称呼近期上下文里不存在的发言者。
func checkMisattributedAddress(in Input) []Finding {
	participants := in.participants()
	own := make(map[string]struct{})
	for _, n := range in.Persona.KnownNames() {
		own[n] = struct{}{}
	}
	for _, m := range greetingRe.FindAllStringSubmatch(in.Candidate, -1) {
		name := strings.ToLower(m[2])
		if _, stop := addressStopwords[name]; stop {
			continue
		}
		if _, self := own[name]; self {
			continue // 自我称呼由 checkSelfAddressing 负责
		}
		if _, present := participants[name]; !present {
			return []Finding{{
				Tag:    TagMisattributedAddress,
				Detail: fmt.Sprintf("addresses %q who is not in the recent conversation", m[2]),
				Delta:  scaled(penaltyMisattribute, in.Settings.Strictness),
			}}
		}
	}
	return nil
}

// checkLength 长度分级惩罚：超限越多罚得越重，合规给小额加分。
func checkLength(in Input) []Finding {
	runes := utf8.RuneCountInString(in.Candidate)
	max := in.Settings.MaxLength
	if max < 1 {
		max = 1
	}
	if runes <= max {
		return []Finding{{
			Tag:    TagLengthOK,
			Detail: fmt.Sprintf("%d/%d chars", runes, max),
			Delta:  bonusLength,
		}}
	}
	overage := float64(runes-max) / float64(max)
	delta := -8.0
	switch {
	case overage > 0.5:
		delta = penaltySevere
	case overage > 0.2:
		delta = -15.0
	}
	return []Finding{{
		Tag:    TagOverLength,
		Detail: fmt.Sprintf("%d chars exceeds limit %d by %.0f%%", runes, max, overage*100),
		Delta:  delta,
	}}
}

// checkRepetition 相邻或相隔的句子近乎重复。
func checkRepetition(in Input) []Finding {
	sentences := textutil.Sentences(in.Candidate)
	if len(sentences) < 2 {
		return nil
	}
	for i := 0; i < len(sentences); i++ {
		if utf8.RuneCountInString(sentences[i]) <= 10 {
			continue
		}
		for j := i + 1; j < len(sentences); j++ {
			if utf8.RuneCountInString(sentences[j]) <= 10 {
				continue
			}
			if textutil.Similarity(sentences[i], sentences[j]) > 0.8 {
				return []Finding{{
					Tag:    TagRepetition,
					Detail: fmt.Sprintf("near-identical sentences: %q / %q", trimForDetail(sentences[i]), trimForDetail(sentences[j])),
					Delta:  scaled(penaltyRepetition, in.Settings.Strictness),
				}}
			}
		}
	}
	return nil
}

// voiceGateRunes 短句不强求语癖，低于该长度跳过声线检查
const voiceGateRunes = 40

// checkVoice 人格声线：长回复应带上至少一个标志性口头禅。
func checkVoice(in Input) []Finding {
	if len(in.Persona.VoiceMarkers) == 0 {
		return nil
	}
	if utf8.RuneCountInString(in.Candidate) < voiceGateRunes {
		return nil
	}
	lower := textutil.Normalize(in.Candidate)
	for _, marker := range in.Persona.VoiceMarkers {
		if marker == "" {
			continue
		}
		if strings.Contains(lower, textutil.Normalize(marker)) {
			return []Finding{{
				Tag:    TagOnVoice,
				Detail: fmt.Sprintf("voice marker %q", marker),
				Delta:  bonusOnVoice,
			}}
		}
	}
	return []Finding{{
		Tag:    TagOffVoice,
		Detail: "no persona voice marker in a long reply",
		Delta:  scaled(penaltyOffVoice, in.Settings.Strictness),
	}}
}

// reactiveOpeners 明显在回应对方的开场
var reactiveOpeners = []string{
	"no way", "really", "wait", "what", "ha", "haha", "lol", "oh",
	"yeah", "nah", "sure", "exactly", "right",
}

// checkEngagement 回复是否扣住对话：提问、反应词或点名上一位发言者
// 都算互动；长篇且毫无互动迹象记为独白。
func checkEngagement(in Input) []Finding {
	lower := strings.ToLower(strings.TrimSpace(in.Candidate))
	engaged := strings.Contains(in.Candidate, "?")
	if !engaged {
		for _, opener := range reactiveOpeners {
			if strings.HasPrefix(lower, opener+" ") || strings.HasPrefix(lower, opener+",") || strings.HasPrefix(lower, opener+"!") || lower == opener {
				engaged = true
				break
			}
		}
	}
	if !engaged && in.LastSpeakerID != "" && !strings.EqualFold(in.LastSpeakerID, in.Persona.ID) {
		if strings.Contains(lower, strings.ToLower(in.LastSpeakerID)) {
			engaged = true
		}
	}
	if engaged {
		return []Finding{{
			Tag:   TagEngaged,
			Delta: bonusEngaged,
		}}
	}
	if utf8.RuneCountInString(in.Candidate) > 120 {
		return []Finding{{
			Tag:    TagMonologue,
			Detail: "long reply with no question or reaction to the thread",
			Delta:  scaled(penaltyMonologue, in.Settings.Strictness),
		}}
	}
	return nil
}

// genericPhrases 空泛套话，多见于生成层兜底输出
var genericPhrases = []string{
	"that's interesting", "that is interesting", "i see what you mean",
	"good point", "thanks for sharing", "tell me more", "that's a great question",
}

// checkGeneric 内容空泛：整条回复只由套话构成。
func checkGeneric(in Input) []Finding {
	lower := textutil.Normalize(in.Candidate)
	if lower == "" {
		return nil
	}
	for _, phrase := range genericPhrases {
		normalized := textutil.Normalize(phrase)
		if lower == normalized || (strings.HasPrefix(lower, normalized+" ") && utf8.RuneCountInString(lower) < 60) {
			return []Finding{{
				Tag:    TagGeneric,
				Detail: fmt.Sprintf("generic filler %q", phrase),
				Delta:  scaled(penaltyMisattribute, in.Settings.Strictness),
			}}
		}
	}
	return nil
}

func trimForDetail(s string) string {
	const max = 40
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
