package configs

import "gopkg.in/yaml.v3"

// DecorateConfigNode 将硬编码的中文注释注入到配置节点树中。
func DecorateConfigNode(node *yaml.Node) {
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return
	}
	root := node.Content[0]
	if root.Kind != yaml.MappingNode {
		return
	}

	root.HeadComment = `# 这个配置文件内的注释是自动生成的，请不要手动修改。
# 需要修改注释时，请在 src/configs/config_comments.go 文件内修改。`

	setFieldLineComment(root, "app_data_path", "# 数据目录，store.path 为空时存储文件放在这里")

	setFieldHeadComment(root, "store", "# 记录存储配置")
	storeNode := findNode(root, "store")
	if storeNode != nil {
		setFieldComment(storeNode, "backend",
			`# 存储后端：sqlite（默认）、badger、memory
# memory 仅用于测试，进程退出后数据丢失`, "")
		setFieldComment(storeNode, "path", "# 存储路径，留空则使用 app_data_path 下的默认文件", "")
	}

	setFieldHeadComment(root, "migration", "# 交易记录结构迁移配置")
	migrationNode := findNode(root, "migration")
	if migrationNode != nil {
		setFieldComment(migrationNode, "batch_size", "# 每批处理的记录数，批与批之间顺序写入", "")
		setFieldComment(migrationNode, "backup_before_migration", "# 迁移前保存完整快照，关闭后无法回滚", "")
		setFieldComment(migrationNode, "skip_validation_errors",
			`# 为 true 时校验失败的记录仍然写入，问题记为警告
# 为 false 时校验失败的记录不写入，且版本不会前进`, "")
		setFieldComment(migrationNode, "default_plan", "# 默认迁移计划：enhanced_schema_v1 或 validate_only", "")
		setFieldComment(migrationNode, "target_version", "# 目标版本（语义化版本号）", "")
		setFieldComment(migrationNode, "default_account_id", "# 旧版记录缺少账户时使用的账户 ID", "")
	}

	flagsNode := findNode(root, "flags")
	if flagsNode != nil {
		setFieldComment(flagsNode, "identity", "# 评估 enhanced_migration 开关时使用的身份", "")
	}

	// Sentry 配置注释
	setFieldHeadComment(root, "sentry", "# Sentry 错误监控配置（用于上报失败的迁移）")
	sentryNode := findNode(root, "sentry")
	if sentryNode != nil {
		setFieldComment(sentryNode, "enable", "# 是否启用 Sentry 错误监控", "")
		setFieldComment(sentryNode, "dsn", "# Sentry DSN，留空则禁用。也可以通过 TJ_SENTRY_DSN 环境变量设置", "")
		setFieldComment(sentryNode, "environment", "# 环境标识：production 或 development", "")
	}
}

func findNode(mapNode *yaml.Node, key string) *yaml.Node {
	for i := 0; i < len(mapNode.Content); i += 2 {
		if mapNode.Content[i].Value == key {
			return mapNode.Content[i+1]
		}
	}
	return nil
}

func setFieldComment(mapNode *yaml.Node, key, headComment, lineComment string) {
	for i := 0; i < len(mapNode.Content); i += 2 {
		k := mapNode.Content[i]
		if k.Value == key {
			if headComment != "" {
				k.HeadComment = headComment
			}
			if lineComment != "" {
				k.LineComment = lineComment
			}
			return
		}
	}
}

func setFieldLineComment(mapNode *yaml.Node, key, lineComment string) {
	for i := 0; i < len(mapNode.Content); i += 2 {
		k := mapNode.Content[i]
		if k.Value == key {
			k.LineComment = lineComment
			return
		}
	}
}

func setFieldHeadComment(mapNode *yaml.Node, key, headComment string) {
	for i := 0; i < len(mapNode.Content); i += 2 {
		k := mapNode.Content[i]
		if k.Value == key {
			k.HeadComment = headComment
			return
		}
	}
}
