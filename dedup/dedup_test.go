package dedup

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStore_NearDuplicateBlocked(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultConfig(), nil)
	s.Record("chan1", "peter", "Holy crap, the chicken is back!")

	// 标点和大小写差异抹平后词元集相同
	m, dup := s.Check("chan1", "peter", "holy crap the chicken is BACK")
	require.True(t, dup)
	assert.InDelta(t, 1.0, m.Similarity, 1e-9)
	assert.Equal(t, "Holy crap, the chicken is back!", m.Reply)

	_, dup = s.Check("chan1", "peter", "Anyone watching the game tonight?")
	assert.False(t, dup)
}

// TestStore_ThresholdIsStrict 重叠度恰好等于阈值不算重复。
func TestStore_ThresholdIsStrict(t *testing.T) {
	t.Parallel()

	words := make([]string, 20)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	full := strings.Join(words, " ")          // 20 个词元
	subset := strings.Join(words[:17], " ")   // 17/20 = 0.85
	overlap := strings.Join(words[:18], " ")  // 18/20 = 0.90

	s := NewStore(Config{Capacity: 10, SimilarityThreshold: 0.85}, nil)
	s.Record("c", "p", full)

	_, dup := s.Check("c", "p", subset)
	assert.False(t, dup, "0.85 不严格大于阈值")

	m, dup := s.Check("c", "p", overlap)
	require.True(t, dup)
	assert.InDelta(t, 0.9, m.Similarity, 1e-9)
}

// TestStore_CapacityEviction 容量正好打满后再推一条，最旧的出窗。
func TestStore_CapacityEviction(t *testing.T) {
	t.Parallel()

	s := NewStore(Config{Capacity: 3, SimilarityThreshold: 0.85}, nil)
	replies := []string{
		"first reply about the boat",
		"second reply about the clam",
		"third reply about the brewery",
		"fourth reply about the chicken",
	}
	for _, r := range replies {
		s.Record("c", "p", r)
	}

	assert.Equal(t, 3, s.Size("c", "p"))

	// 最旧的一条已不在窗口里
	_, dup := s.Check("c", "p", replies[0])
	assert.False(t, dup)
	_, dup = s.Check("c", "p", replies[3])
	assert.True(t, dup)
}

func TestStore_KeysAreIsolated(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultConfig(), nil)
	s.Record("chan1", "peter", "the exact same sentence here")

	// 同频道不同人格
	_, dup := s.Check("chan1", "brian", "the exact same sentence here")
	assert.False(t, dup)

	// 同人格不同频道
	_, dup = s.Check("chan2", "peter", "the exact same sentence here")
	assert.False(t, dup)

	_, dup = s.Check("chan1", "peter", "the exact same sentence here")
	assert.True(t, dup)
}

func TestStore_CheckDoesNotRecord(t *testing.T) {
	t.Parallel()

	s := NewStore(DefaultConfig(), nil)
	_, dup := s.Check("c", "p", "never recorded")
	assert.False(t, dup)
	assert.Equal(t, 0, s.Size("c", "p"))
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewStore(Config{Capacity: 20, SimilarityThreshold: 0.85}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			persona := fmt.Sprintf("p%d", id%2)
			for j := 0; j < 50; j++ {
				s.Record("c", persona, fmt.Sprintf("reply %d from %s", j, persona))
				s.Check("c", persona, "reply 1")
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, s.Size("c", "p0"))
	assert.Equal(t, 20, s.Size("c", "p1"))
}

// TestStore_RecordedReplyMatchesItself 任何字符串记录后立刻查重必命中。
func TestStore_RecordedReplyMatchesItself(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		s := NewStore(DefaultConfig(), nil)
		reply := rapid.String().Draw(rt, "reply")
		s.Record("c", "p", reply)

		m, dup := s.Check("c", "p", reply)
		if !dup {
			rt.Fatalf("freshly recorded reply not flagged: %q", reply)
		}
		if m.Similarity <= 0.85 {
			rt.Fatalf("similarity %f not above threshold", m.Similarity)
		}
	})
}
