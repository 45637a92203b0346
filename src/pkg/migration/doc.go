// Package migration 将旧版交易记录迁移为增强版结构
//
// 主要特性：
//
// 1. 分批迁移：按 BatchSize 切分，逐批转换、校验并写入 records.migrated，批与批严格串行
// 2. 备份与回滚：迁移前保存完整快照（最新一份 + 最多 5 份带时间戳的副本），Rollback 以快照整体覆盖
// 3. 部分失败：校验失败的记录按 SkipValidationErrors 记为警告或错误，不会中断整个批次
// 4. 版本历史：语义化版本只追加、严格递增，当前版本等于最后一条
// 5. 运行标记：迁移开始时写入 migration.lock，异常退出后可被检测
//
// 基本使用示例：
//
//	store, _ := metadata.Open(metadata.BackendSQLite, "/path/to/journal.db")
//	m, _ := migration.NewMigrator(store, migration.DefaultOptions())
//
//	records, _ := m.LoadLegacy(ctx)
//	result, err := m.MigrateMany(ctx, records)
//	if err != nil {
//	    // 存储失败
//	}
//	if !result.Success {
//	    m.Rollback(ctx, result.RollbackData)
//	}
package migration
