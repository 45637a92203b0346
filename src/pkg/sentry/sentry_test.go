package sentry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
)

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "connect failed: password=[REDACTED] host=db", sanitizeString("connect failed: password=hunter2 host=db"))
	assert.Equal(t, `decode: "notes=[REDACTED] }`, sanitizeString(`decode: "notes": "lost" }`))
	assert.Equal(t, "plan enhanced_schema_v1: step backup_data failed", sanitizeString("plan enhanced_schema_v1: step backup_data failed"))
}

func TestBeforeSendHook(t *testing.T) {
	event := &sentry.Event{
		Message: "token=abc",
		Extra: map[string]interface{}{
			"accountId": "acc-1",
			"plan_id":   "enhanced_schema_v1",
			"nested":    map[string]interface{}{"secret": "x"},
		},
		Tags: map[string]string{"plan_id": "p", "auth": "bearer"},
	}

	out := beforeSendHook(event, nil)
	assert.Equal(t, "token=[REDACTED]", out.Message)
	assert.Equal(t, "[REDACTED]", out.Extra["accountId"])
	assert.Equal(t, "enhanced_schema_v1", out.Extra["plan_id"])
	assert.Equal(t, "[REDACTED]", out.Extra["nested"].(map[string]interface{})["secret"])
	assert.Equal(t, "p", out.Tags["plan_id"])
	assert.Equal(t, "[REDACTED]", out.Tags["auth"])
}

func TestInstallID(t *testing.T) {
	ctx := context.Background()
	store := metadata.NewMemoryStore()

	id := InstallID(ctx, store)
	assert.Len(t, id, 32)
	assert.Equal(t, id, InstallID(ctx, store))
	assert.Len(t, InstallID(ctx, nil), 32)
}

func TestInitWithoutDSN(t *testing.T) {
	assert.NoError(t, Init(Options{}))
	assert.False(t, IsInitialized())
	// 未初始化时为空操作
	CaptureException(assert.AnError)
	CaptureExceptionWithTags(context.Background(), assert.AnError, map[string]string{"plan_id": "p"})
	Flush(0)
}

// recordingTransport 记录发送的事件
type recordingTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (r *recordingTransport) Flush(time.Duration) bool { return true }
func (r *recordingTransport) Configure(sentry.ClientOptions) {}
func (r *recordingTransport) Close() {}

func (r *recordingTransport) SendEvent(event *sentry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingTransport) Events() []*sentry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*sentry.Event(nil), r.events...)
}

func resetSentry() {
	sentry.CurrentHub().BindClient(nil)
	initMu.Lock()
	initialized = false
	initMu.Unlock()
}

func TestCaptureSanitizedThroughTransport(t *testing.T) {
	transport := &recordingTransport{}
	require.NoError(t, Init(Options{
		DSN:         "https://public@sentry.example.com/1",
		Environment: "test",
		InstallID:   "install-1",
		Transport:   transport,
	}))
	t.Cleanup(resetSentry)
	require.True(t, IsInitialized())

	CaptureMessage("plan p: optional step cleanup failed: password=hunter2")
	CaptureException(errors.New("token=abc leaked"))
	CaptureExceptionWithTags(context.Background(), errors.New("boom"), map[string]string{"plan_id": "p"})

	events := transport.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "plan p: optional step cleanup failed: password=[REDACTED]", events[0].Message)
	assert.Equal(t, "install-1", events[0].User.ID)
	require.NotEmpty(t, events[1].Exception)
	assert.Equal(t, "token=[REDACTED] leaked", events[1].Exception[len(events[1].Exception)-1].Value)
	assert.Equal(t, "p", events[2].Tags["plan_id"])

	var recovered any
	func() {
		defer Recover(func(v any) { recovered = v })
		panic("kaboom")
	}()
	assert.Equal(t, "kaboom", recovered)
	assert.Len(t, transport.Events(), 4)
}

func TestRecoverWithoutInit(t *testing.T) {
	var recovered any
	func() {
		defer Recover(func(v any) { recovered = v })
		panic("boom")
	}()
	assert.Equal(t, "boom", recovered)

	// 没有 panic 时不调用回调
	called := false
	func() {
		defer Recover(func(any) { called = true })
	}()
	assert.False(t, called)
}
