package organic

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
)

// BestFitFunc 后端辅助的人格精选钩子：从候选里挑最适合接话的人格 ID。
// 返回错误或未知 ID 时，调用方保留加权随机的结果。
type BestFitFunc func(ctx context.Context, turns []types.ConversationTurn, candidates []types.Persona) (string, error)

// Selector 按 initiation_weight 加权随机挑选发起人格。
// rand.Rand 不内置锁，Pick 自己串行化。
type Selector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector creates a randomly seeded Selector.
func NewSelector() *Selector {
	return newSelectorWithSource(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

func newSelectorWithSource(rng *rand.Rand) *Selector {
	return &Selector{rng: rng}
}

// Pick 从候选中加权随机选一个。
// 权重非正的人格不参与抽签；全员权重非正时退化为均匀分布。
func (s *Selector) Pick(candidates []types.Persona) (types.Persona, bool) {
	if len(candidates) == 0 {
		return types.Persona{}, false
	}

	total := 0.0
	last := -1
	for i, p := range candidates {
		if p.InitiationWeight > 0 {
			total += p.InitiationWeight
			last = i
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if total <= 0 {
		return candidates[s.rng.IntN(len(candidates))], true
	}
	r := s.rng.Float64() * total
	for _, p := range candidates {
		if p.InitiationWeight <= 0 {
			continue
		}
		r -= p.InitiationWeight
		if r < 0 {
			return p, true
		}
	}
	// 浮点累加误差落到边界时归给最后一个有效候选
	return candidates[last], true
}
