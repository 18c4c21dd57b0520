// Package sqlite 提供SQLite方言与历史存储构造器
package sqlite

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/taskdeck/flowqueue/pkg/storage"
)

// Dialect SQLite方言实现（对外导出）
type Dialect struct{}

// NewDialect 创建SQLite方言（对外导出）
func NewDialect() *Dialect {
	return &Dialect{}
}

// Name 返回方言名称
func (d *Dialect) Name() string {
	return "sqlite"
}

// Placeholder SQLite使用?占位符，忽略index
func (d *Dialect) Placeholder(index int) string {
	return "?"
}

// InsertIgnoreSQL SQLite使用INSERT OR IGNORE
func (d *Dialect) InsertIgnoreSQL(tableName string, columns []string, conflictColumn string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		tableName, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

// ConfigureDB 返回SQLite的PRAGMA配置
// WAL模式提升并发读写性能，busy_timeout避免锁冲突直接报错
func (d *Dialect) ConfigureDB() []string {
	return []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=30000;",
		"PRAGMA wal_autocheckpoint=1000;",
		"PRAGMA synchronous=NORMAL;",
	}
}

// TimestampType 返回时间戳类型
func (d *Dialect) TimestampType() string {
	return "DATETIME"
}

// TextType 返回文本类型
func (d *Dialect) TextType() string {
	return "TEXT"
}

// 确保实现接口
var _ storage.Dialect = (*Dialect)(nil)

// NewHistoryRepo 按文件路径创建SQLite历史存储（对外导出）
func NewHistoryRepo(dbPath string) (*storage.SQLHistoryRepo, error) {
	db, err := sqlx.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开SQLite数据库失败: %w", err)
	}
	// SQLite单写者模型，限制连接数避免database is locked
	db.SetMaxOpenConns(1)

	repo, err := storage.NewSQLHistoryRepo(db, NewDialect())
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}
