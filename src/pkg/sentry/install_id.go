package sentry

import (
	"context"
	"strings"

	uuid "github.com/satori/go.uuid"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/metadata"
)

// KeyInstallID 匿名安装标识的存储键
const KeyInstallID = "app.install_id"

// InstallID 读取或生成匿名安装标识
// 保存失败不影响返回，下次启动会重新生成
func InstallID(ctx context.Context, store metadata.Store) string {
	if store == nil {
		return generateUUID()
	}
	if data, err := store.Get(ctx, KeyInstallID); err == nil && len(data) > 0 {
		return string(data)
	}
	id := generateUUID()
	_ = store.Set(ctx, KeyInstallID, []byte(id))
	return id
}

// generateUUID 生成去掉连字符的 UUID（32 位十六进制字符串）
func generateUUID() string {
	id := uuid.Must(uuid.NewV4())
	return strings.ReplaceAll(id.String(), "-", "")
}
