package organic

import (
	"sync"
	"time"
)

// ChannelState 单频道调度状态的只读快照，供接口层与排障使用。
type ChannelState struct {
	LastOrganic  time.Time `json:"last_organic"`
	LastFollowup time.Time `json:"last_followup"`
}

// channelState 频道内部状态。锁跨越整个评估周期，
// 同一频道的定时轮询与手动触发互斥，时间戳只增不减。
type channelState struct {
	mu           sync.Mutex
	lastOrganic  time.Time
	lastFollowup time.Time
}

// stateStore 按频道分片的状态表，外层锁只保护映射本身。
type stateStore struct {
	mu       sync.Mutex
	channels map[string]*channelState
}

func newStateStore() *stateStore {
	return &stateStore{channels: make(map[string]*channelState)}
}

func (s *stateStore) get(channelID string) *channelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[channelID]
	if !ok {
		st = &channelState{}
		s.channels[channelID] = st
	}
	return st
}

func (s *stateStore) snapshot(channelID string) (ChannelState, bool) {
	s.mu.Lock()
	st, ok := s.channels[channelID]
	s.mu.Unlock()
	if !ok {
		return ChannelState{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return ChannelState{LastOrganic: st.lastOrganic, LastFollowup: st.lastFollowup}, true
}
