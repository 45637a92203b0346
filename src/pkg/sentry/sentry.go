// Package sentry 提供 Sentry 错误监控的封装
// 用于上报失败的迁移运行，同时过滤交易数据和凭据
package sentry

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

var (
	// initialized 标记 Sentry 是否已初始化
	initialized bool
	// initMu 保护初始化状态
	initMu sync.RWMutex
)

const recoverFlushTimeout = 2 * time.Second

// 敏感关键字列表
var sensitiveKeywords = []string{
	"token", "password", "passwd", "secret", "dsn", "auth", "credential",
	"api_key", "apikey", "account_id", "accountid", "notes",
}

var sensitivePatterns = buildPatterns(sensitiveKeywords)

func buildPatterns(keywords []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(keywords))
	for _, keyword := range keywords {
		// 匹配 keyword=value 或 keyword: value 格式
		patterns = append(patterns, regexp.MustCompile(`(?i)(`+regexp.QuoteMeta(keyword)+`)"?\s*[=:]\s*[^\s,}\]]+`))
	}
	return patterns
}

// Options 初始化参数
type Options struct {
	// DSN 为空时不初始化
	DSN         string
	Environment string
	Release     string
	// InstallID 匿名安装标识
	InstallID string
	// Transport 为空时使用默认 HTTP 发送
	Transport sentry.Transport
}

// Init 初始化 Sentry SDK
func Init(opts Options) error {
	if opts.DSN == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		AttachStacktrace: true,
		BeforeSend:       beforeSendHook,
		SampleRate:       1.0,
		Transport:        opts.Transport,
	})
	if err != nil {
		return err
	}

	if opts.InstallID != "" {
		sentry.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetUser(sentry.User{ID: opts.InstallID})
		})
	}

	initMu.Lock()
	initialized = true
	initMu.Unlock()
	return nil
}

// IsInitialized 返回 Sentry 是否已初始化
func IsInitialized() bool {
	initMu.RLock()
	defer initMu.RUnlock()
	return initialized
}

// Flush 刷新所有待发送事件（程序退出前调用）
func Flush(timeout time.Duration) {
	if !IsInitialized() {
		return
	}
	sentry.Flush(timeout)
}

// Recover 用于 panic 恢复，上报并刷新后调用 onPanic，不再重新 panic
// 必须直接 defer 调用
func Recover(onPanic func(v any)) {
	v := recover()
	if v == nil {
		return
	}
	if IsInitialized() {
		if hub := sentry.CurrentHub(); hub != nil {
			hub.Recover(v)
			sentry.Flush(recoverFlushTimeout)
		}
	}
	if onPanic != nil {
		onPanic(v)
	}
}

// CaptureException 捕获异常
func CaptureException(err error) {
	if !IsInitialized() || err == nil {
		return
	}
	sentry.CaptureException(err)
}

// CaptureExceptionWithTags 捕获异常并附加标签（如 plan_id）
func CaptureExceptionWithTags(ctx context.Context, err error, tags map[string]string) {
	if !IsInitialized() || err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub().Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}

// CaptureMessage 捕获消息
func CaptureMessage(msg string) {
	if !IsInitialized() {
		return
	}
	sentry.CaptureMessage(msg)
}

// beforeSendHook 在发送事件前清理敏感数据
func beforeSendHook(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Message != "" {
		event.Message = sanitizeString(event.Message)
	}
	for i := range event.Exception {
		if event.Exception[i].Value != "" {
			event.Exception[i].Value = sanitizeString(event.Exception[i].Value)
		}
		if st := event.Exception[i].Stacktrace; st != nil {
			for j := range st.Frames {
				st.Frames[j].Vars = sanitizeMap(st.Frames[j].Vars)
			}
		}
	}
	event.Extra = sanitizeMap(event.Extra)
	event.Tags = sanitizeTags(event.Tags)
	return event
}

// sanitizeString 清理字符串中的敏感数据
func sanitizeString(s string) string {
	result := s
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, "$1=[REDACTED]")
	}
	return result
}

// sanitizeMap 清理 map 中的敏感数据
func sanitizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	result := make(map[string]interface{}, len(m))
	for key, value := range m {
		switch v := value.(type) {
		case string:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = sanitizeString(v)
			}
		case map[string]interface{}:
			result[key] = sanitizeMap(v)
		default:
			if isSensitiveKey(key) {
				result[key] = "[REDACTED]"
			} else {
				result[key] = value
			}
		}
	}
	return result
}

// sanitizeTags 清理 tags 中的敏感数据
func sanitizeTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	result := make(map[string]string, len(tags))
	for key, value := range tags {
		if isSensitiveKey(key) {
			result[key] = "[REDACTED]"
		} else {
			result[key] = sanitizeString(value)
		}
	}
	return result
}

// isSensitiveKey 检查键名是否敏感
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
