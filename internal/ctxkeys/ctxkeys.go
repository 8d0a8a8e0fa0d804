package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	channelIDKey contextKey = "channel_id"
	personaIDKey contextKey = "persona_id"
)

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithChannelID 设置频道 ID
func WithChannelID(ctx context.Context, channelID string) context.Context {
	return context.WithValue(ctx, channelIDKey, channelID)
}

// ChannelID 获取频道 ID
func ChannelID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(channelIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithPersonaID 设置人格 ID
func WithPersonaID(ctx context.Context, personaID string) context.Context {
	return context.WithValue(ctx, personaIDKey, personaID)
}

// PersonaID 获取人格 ID
func PersonaID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(personaIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
