// Package storage 按配置选择历史存储的数据库实现
package storage

import (
	"fmt"

	"github.com/taskdeck/flowqueue/pkg/storage"
	"github.com/taskdeck/flowqueue/pkg/storage/mysql"
	"github.com/taskdeck/flowqueue/pkg/storage/postgres"
	"github.com/taskdeck/flowqueue/pkg/storage/sqlite"
)

// NewHistoryRepository 按数据库类型创建历史存储（内部方法）
// dbType: 数据库类型（sqlite/mysql/postgres）
// dsn: 连接字符串（SQLite为文件路径）
func NewHistoryRepository(dbType, dsn string) (storage.HistoryRepository, error) {
	switch dbType {
	case "sqlite", "":
		return sqlite.NewHistoryRepo(dsn)
	case "mysql":
		return mysql.NewHistoryRepo(dsn)
	case "postgres", "postgresql":
		return postgres.NewHistoryRepo(dsn)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", dbType)
	}
}
