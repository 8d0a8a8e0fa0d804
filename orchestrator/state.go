package orchestrator

import (
	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/metrics"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// State 重试状态机的状态
type State string

const (
	StateInit       State = "INIT"
	StateGenerating State = "GENERATING"
	StateAssessing  State = "ASSESSING"
	StateAccepted   State = "ACCEPTED"
	StateRetry      State = "RETRY"
	StateExhausted  State = "EXHAUSTED"
)

// validTransitions 列出每个状态允许的后继。
// GENERATING→RETRY 覆盖后端调用失败(无候选可评),
// RETRY→EXHAUSTED 覆盖两次尝试之间的截止时间检查。
var validTransitions = map[State][]State{
	StateInit:       {StateGenerating},
	StateGenerating: {StateAssessing, StateRetry, StateExhausted},
	StateAssessing:  {StateAccepted, StateRetry, StateExhausted},
	StateRetry:      {StateGenerating, StateExhausted},
	StateAccepted:   {},
	StateExhausted:  {},
}

// Terminal reports whether the state has no successors.
func (s State) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// machine 持有单次请求的状态,逐次转换并记录指标。
// 非法转换说明编排器自身有 bug,直接报错而不是悄悄纠正。
type machine struct {
	state     State
	personaID string
	collector *metrics.Collector
	logger    *zap.Logger
}

func newMachine(personaID string, collector *metrics.Collector, logger *zap.Logger) *machine {
	return &machine{
		state:     StateInit,
		personaID: personaID,
		collector: collector,
		logger:    logger,
	}
}

// to transitions the machine into the next state.
func (m *machine) to(next State) error {
	for _, allowed := range validTransitions[m.state] {
		if allowed == next {
			if m.collector != nil {
				m.collector.RecordStateTransition(m.personaID, string(m.state), string(next))
			}
			m.logger.Debug("state transition",
				zap.String("from", string(m.state)),
				zap.String("to", string(next)))
			m.state = next
			return nil
		}
	}
	return types.NewError(types.ErrInvalidTransition,
		"invalid state transition "+string(m.state)+" -> "+string(next)).
		WithPersona(m.personaID)
}
