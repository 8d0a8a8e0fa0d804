package types

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	// RoleHuman marks a turn written by a real participant.
	RoleHuman Role = "human"
	// RolePersona marks a turn produced by the reply pipeline.
	RolePersona Role = "persona"
)

// ConversationTurn 一条追加写入的对话记录。
// 同一频道内按时间有序，是会话状态分类的唯一输入；创建后不再修改。
type ConversationTurn struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	SpeakerID string    `json:"speaker_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn with a fresh id and the current UTC timestamp.
func NewTurn(channelID, speakerID string, role Role, text string) ConversationTurn {
	return ConversationTurn{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		SpeakerID: speakerID,
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

// NewHumanTurn creates a human-authored turn.
func NewHumanTurn(channelID, speakerID, text string) ConversationTurn {
	return NewTurn(channelID, speakerID, RoleHuman, text)
}

// NewPersonaTurn creates a persona-authored turn.
func NewPersonaTurn(channelID, personaID, text string) ConversationTurn {
	return NewTurn(channelID, personaID, RolePersona, text)
}

// WithTimestamp returns a copy of the turn with the given timestamp.
func (t ConversationTurn) WithTimestamp(ts time.Time) ConversationTurn {
	t.Timestamp = ts
	return t
}

// IsPersona reports whether the turn was produced by a persona.
func (t ConversationTurn) IsPersona() bool {
	return t.Role == RolePersona
}
