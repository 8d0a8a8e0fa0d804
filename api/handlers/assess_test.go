package handlers

import (
	"net/http"
	"testing"

	"github.com/DapeSec/Discord-PG-Bot-sub001/api"
	"github.com/DapeSec/Discord-PG-Bot-sub001/conversation"
	"github.com/DapeSec/Discord-PG-Bot-sub001/history"
	"github.com/DapeSec/Discord-PG-Bot-sub001/quality"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newAssessHandler 用真实的分类器、阈值表与评估器组装处理器
func newAssessHandler(t *testing.T, store history.Store) *AssessHandler {
	t.Helper()

	calculator, err := quality.NewCalculator(nil, testPersonas())
	require.NoError(t, err)

	return NewAssessHandler(
		conversation.NewClassifier(conversation.DefaultConfig()),
		calculator,
		quality.NewAssessor(zap.NewNop()),
		store,
		testPersonas(),
		25,
		zap.NewNop(),
	)
}

// =============================================================================
// 🧪 AssessHandler 测试
// =============================================================================

func TestAssessHandler_ColdWithoutContext(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultStoreConfig())
	h := newAssessHandler(t, store)

	w := postJSON(t, h.HandleAssess, "/api/v1/assess", api.AssessRequest{
		PersonaID: "psyduck",
		Candidate: "psy... that waterfall has been following me all afternoon",
	})

	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)

	// 无上下文时落在最低档位
	assert.Equal(t, "COLD", data["tier"])

	settings, ok := data["settings"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "COLD", settings["tier"])

	assessment, ok := data["assessment"].(map[string]any)
	require.True(t, ok)
	score, ok := assessment["score"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, score, 1.0)
	assert.LessOrEqual(t, score, 100.0)

	threshold, ok := settings["threshold"].(float64)
	require.True(t, ok)
	assert.Equal(t, score >= threshold, data["passed"])
}

func TestAssessHandler_WarmWithChannelContext(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultStoreConfig())
	seedChannel(t, store, "c1", 6)
	h := newAssessHandler(t, store)

	w := postJSON(t, h.HandleAssess, "/api/v1/assess", api.AssessRequest{
		PersonaID: "psyduck",
		Candidate: "psy... six messages about ducks and nobody mentioned headaches",
		ChannelID: "c1",
	})

	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)

	// 6 条有效发言超过 COLD 档上限
	assert.Equal(t, "WARM", data["tier"])
}

func TestAssessHandler_VoiceMarkerStrength(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultStoreConfig())
	h := newAssessHandler(t, store)

	w := postJSON(t, h.HandleAssess, "/api/v1/assess", api.AssessRequest{
		PersonaID: "psyduck",
		Candidate: "psy... that waterfall has been following me all afternoon",
	})

	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]any)
	assessment := data["assessment"].(map[string]any)

	strengths, ok := assessment["strengths"].([]any)
	require.True(t, ok, "voice marker hit should surface as a strength")

	var found bool
	for _, raw := range strengths {
		if finding, ok := raw.(map[string]any); ok && finding["tag"] == "on_voice" {
			found = true
		}
	}
	assert.True(t, found, "expected an on_voice finding")
}

func TestAssessHandler_Validation(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultStoreConfig())
	h := newAssessHandler(t, store)

	tests := []struct {
		name         string
		req          api.AssessRequest
		expectedHTTP int
		expectedCode string
	}{
		{
			name:         "missing persona_id",
			req:          api.AssessRequest{Candidate: "some candidate text"},
			expectedHTTP: http.StatusBadRequest,
			expectedCode: string(types.ErrInvalidRequest),
		},
		{
			name:         "missing candidate",
			req:          api.AssessRequest{PersonaID: "psyduck"},
			expectedHTTP: http.StatusBadRequest,
			expectedCode: string(types.ErrInvalidRequest),
		},
		{
			name:         "unknown persona",
			req:          api.AssessRequest{PersonaID: "missingno", Candidate: "some candidate text"},
			expectedHTTP: http.StatusNotFound,
			expectedCode: string(types.ErrPersonaNotFound),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h.HandleAssess, "/api/v1/assess", tt.req)

			require.Equal(t, tt.expectedHTTP, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
		})
	}
}
