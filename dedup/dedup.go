// Package dedup 维护每个人格的近期回复窗口，拦截与最近已发内容
// 高度重合的候选。窗口是定长 FIFO：接受一条就推入一条，满了挤掉最旧的。
package dedup

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/DapeSec/Discord-PG-Bot-sub001/internal/textutil"
)

// Config 去重窗口参数
type Config struct {
	// Capacity 每个 (频道, 人格) 键保留的近期回复条数
	Capacity int
	// SimilarityThreshold 词元重叠度超过该值判定为重复（严格大于）
	SimilarityThreshold float64
}

// DefaultConfig 返回默认窗口参数。
func DefaultConfig() Config {
	return Config{
		Capacity:            50,
		SimilarityThreshold: 0.85,
	}
}

// Match 查重命中详情
type Match struct {
	// Similarity 与命中回复的词元重叠度
	Similarity float64 `json:"similarity"`
	// Reply 窗口中被命中的那条回复原文
	Reply string `json:"reply"`
}

// entry 窗口条目：原文加预计算的词元集
type entry struct {
	text   string
	tokens map[string]struct{}
}

// window 单键的 FIFO 窗口。自带锁：不同键之间互不争用。
type window struct {
	mu      sync.Mutex
	entries []entry
}

// Store 按 (频道, 人格) 键维护互相隔离的回复窗口。
// 两个人格说了相似的话不算重复；同一人格跨频道也不算。
type Store struct {
	mu      sync.RWMutex
	cfg     Config
	windows map[string]*window
	logger  *zap.Logger
}

// NewStore 创建去重存储。
func NewStore(cfg Config, logger *zap.Logger) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = DefaultConfig().SimilarityThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cfg:     cfg,
		windows: make(map[string]*window),
		logger:  logger.With(zap.String("component", "dedup_store")),
	}
}

func windowKey(channelID, personaID string) string {
	return fmt.Sprintf("%s/%s", channelID, personaID)
}

// getWindow 取出或创建键对应的窗口
func (s *Store) getWindow(key string) *window {
	s.mu.RLock()
	w, ok := s.windows[key]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[key]; ok {
		return w
	}
	w = &window{}
	s.windows[key] = w
	return w
}

// Check 查重。命中返回最相似条目的详情和 true。
// 只读不写：查重失败的候选不进窗口。
func (s *Store) Check(channelID, personaID, candidate string) (Match, bool) {
	w := s.getWindow(windowKey(channelID, personaID))
	tokens := textutil.TokenSet(candidate)

	w.mu.Lock()
	defer w.mu.Unlock()

	best := Match{}
	for _, e := range w.entries {
		sim := textutil.Jaccard(tokens, e.tokens)
		if sim > best.Similarity {
			best = Match{Similarity: sim, Reply: e.text}
		}
	}
	if best.Similarity > s.cfg.SimilarityThreshold {
		s.logger.Debug("duplicate candidate blocked",
			zap.String("channel", channelID),
			zap.String("persona", personaID),
			zap.Float64("similarity", best.Similarity),
		)
		return best, true
	}
	return Match{}, false
}

// Record 把已接受的回复推入窗口，容量满时挤掉最旧一条。
func (s *Store) Record(channelID, personaID, reply string) {
	w := s.getWindow(windowKey(channelID, personaID))

	w.mu.Lock()
	defer w.mu.Unlock()

	w.entries = append(w.entries, entry{
		text:   reply,
		tokens: textutil.TokenSet(reply),
	})
	if len(w.entries) > s.cfg.Capacity {
		// 只会超出一条，整体左移即可
		w.entries = w.entries[1:]
	}
}

// Size 返回键当前窗口内的条目数。
func (s *Store) Size(channelID, personaID string) int {
	w := s.getWindow(windowKey(channelID, personaID))
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
