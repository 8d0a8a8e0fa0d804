package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DapeSec/Discord-PG-Bot-sub001/api"
	"github.com/DapeSec/Discord-PG-Bot-sub001/conversation"
	"github.com/DapeSec/Discord-PG-Bot-sub001/history"
	"github.com/DapeSec/Discord-PG-Bot-sub001/orchestrator"
	"github.com/DapeSec/Discord-PG-Bot-sub001/quality"
	"github.com/DapeSec/Discord-PG-Bot-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

// stubPipeline 模拟回帖管线，记录收到的请求
type stubPipeline struct {
	lastReq orchestrator.Request
	result  *orchestrator.Result
	err     error
}

func (s *stubPipeline) Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func acceptedResult() *orchestrator.Result {
	return &orchestrator.Result{
		Text:         "psyduck tilts its head and says psy?",
		Accepted:     true,
		Tier:         conversation.TierWarm,
		ContextValue: 0.5,
		Settings:     quality.DefaultTable()[conversation.TierWarm],
		Attempts: []orchestrator.Attempt{
			{
				Number:     1,
				Candidate:  "psyduck tilts its head and says psy?",
				Assessment: quality.Assessment{Score: 80},
				Accepted:   true,
			},
		},
	}
}

func testPersonas() []types.Persona {
	return []types.Persona{
		{ID: "psyduck", Name: "Psyduck", VoiceMarkers: []string{"psy"}},
		{ID: "brian", Name: "Brian", VoiceMarkers: []string{"well actually"}},
	}
}

// seedChannel 向内存存储写入 n 条人类发言
func seedChannel(t *testing.T, store history.Store, channelID string, n int) {
	t.Helper()
	base := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		turn := types.NewHumanTurn(channelID, "user-1", "message about ducks")
		turn.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.AppendTurn(context.Background(), turn))
	}
}

// postJSON 构造 JSON POST 请求并执行 handler
func postJSON(t *testing.T, handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	handler(w, r)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

// =============================================================================
// 🧪 ReplyHandler 测试
// =============================================================================

func TestReplyHandler_Success(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultStoreConfig())
	seedChannel(t, store, "c1", 3)

	pipeline := &stubPipeline{result: acceptedResult()}
	h := NewReplyHandler(pipeline, store, testPersonas(), 25, zap.NewNop())

	w := postJSON(t, h.HandleReply, "/api/v1/reply", api.ReplyRequest{
		ChannelID: "c1",
		PersonaID: "psyduck",
	})

	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "psyduck tilts its head and says psy?", data["text"])
	assert.Equal(t, true, data["accepted"])
	assert.Equal(t, "WARM", data["tier"])

	attempts, ok := data["attempts"].([]any)
	require.True(t, ok)
	assert.Len(t, attempts, 1)

	// 管线收到的请求带上了频道、人格与完整上下文
	assert.Equal(t, "c1", pipeline.lastReq.ChannelID)
	assert.Equal(t, "psyduck", pipeline.lastReq.Persona.ID)
	assert.Len(t, pipeline.lastReq.Turns, 3)
}

func TestReplyHandler_ContextLimit(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultStoreConfig())
	seedChannel(t, store, "c1", 5)

	pipeline := &stubPipeline{result: acceptedResult()}
	h := NewReplyHandler(pipeline, store, testPersonas(), 25, zap.NewNop())

	w := postJSON(t, h.HandleReply, "/api/v1/reply", api.ReplyRequest{
		ChannelID:    "c1",
		PersonaID:    "psyduck",
		ContextLimit: 2,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, pipeline.lastReq.Turns, 2)
}

func TestReplyHandler_EmptyHistory(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultStoreConfig())

	pipeline := &stubPipeline{result: acceptedResult()}
	h := NewReplyHandler(pipeline, store, testPersonas(), 25, zap.NewNop())

	w := postJSON(t, h.HandleReply, "/api/v1/reply", api.ReplyRequest{
		ChannelID: "fresh",
		PersonaID: "psyduck",
	})

	// 无历史频道也能跑管线，只是上下文为空
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, pipeline.lastReq.Turns)
}

func TestReplyHandler_UnknownPersona(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultStoreConfig())
	h := NewReplyHandler(&stubPipeline{result: acceptedResult()}, store, testPersonas(), 25, zap.NewNop())

	w := postJSON(t, h.HandleReply, "/api/v1/reply", api.ReplyRequest{
		ChannelID: "c1",
		PersonaID: "missingno",
	})

	require.Equal(t, http.StatusNotFound, w.Code)

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrPersonaNotFound), resp.Error.Code)
	assert.Equal(t, "missingno", resp.Error.Persona)
}

func TestReplyHandler_Validation(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultStoreConfig())
	h := NewReplyHandler(&stubPipeline{result: acceptedResult()}, store, testPersonas(), 25, zap.NewNop())

	tests := []struct {
		name string
		req  api.ReplyRequest
	}{
		{name: "missing channel_id", req: api.ReplyRequest{PersonaID: "psyduck"}},
		{name: "missing persona_id", req: api.ReplyRequest{ChannelID: "c1"}},
		{name: "negative context_limit", req: api.ReplyRequest{ChannelID: "c1", PersonaID: "psyduck", ContextLimit: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h.HandleReply, "/api/v1/reply", tt.req)

			require.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
		})
	}
}

func TestReplyHandler_InvalidContentType(t *testing.T) {
	store := history.NewMemoryStore(history.DefaultStoreConfig())
	h := NewReplyHandler(&stubPipeline{result: acceptedResult()}, store, testPersonas(), 25, zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/reply", bytes.NewBufferString("channel_id=c1"))
	r.Header.Set("Content-Type", "text/plain")

	h.HandleReply(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReplyHandler_PipelineError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode string
		expectedHTTP int
	}{
		{
			name:         "typed exhausted error",
			err:          types.NewError(types.ErrExhausted, "no candidate passed"),
			expectedCode: string(types.ErrExhausted),
			expectedHTTP: http.StatusUnprocessableEntity,
		},
		{
			name:         "untyped error wrapped as internal",
			err:          errors.New("boom"),
			expectedCode: string(types.ErrInternalError),
			expectedHTTP: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := history.NewMemoryStore(history.DefaultStoreConfig())
			h := NewReplyHandler(&stubPipeline{err: tt.err}, store, testPersonas(), 25, zap.NewNop())

			w := postJSON(t, h.HandleReply, "/api/v1/reply", api.ReplyRequest{
				ChannelID: "c1",
				PersonaID: "psyduck",
			})

			require.Equal(t, tt.expectedHTTP, w.Code)
			resp := decodeResponse(t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
		})
	}
}
