// Package mysql 提供MySQL方言与历史存储构造器
package mysql

import (
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/taskdeck/flowqueue/pkg/storage"
)

// Dialect MySQL方言实现（对外导出）
type Dialect struct{}

// NewDialect 创建MySQL方言（对外导出）
func NewDialect() *Dialect {
	return &Dialect{}
}

// Name 返回方言名称
func (d *Dialect) Name() string {
	return "mysql"
}

// Placeholder MySQL使用?占位符，忽略index
func (d *Dialect) Placeholder(index int) string {
	return "?"
}

// InsertIgnoreSQL MySQL使用INSERT IGNORE
func (d *Dialect) InsertIgnoreSQL(tableName string, columns []string, conflictColumn string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)",
		tableName, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

// ConfigureDB MySQL无需额外配置语句
func (d *Dialect) ConfigureDB() []string {
	return nil
}

// TimestampType 返回时间戳类型
// DATETIME(3)保留毫秒精度
func (d *Dialect) TimestampType() string {
	return "DATETIME(3)"
}

// TextType 返回文本类型
func (d *Dialect) TextType() string {
	return "TEXT"
}

// 确保实现接口
var _ storage.Dialect = (*Dialect)(nil)

// NewHistoryRepo 按DSN创建MySQL历史存储（对外导出）
// DSN格式: user:pass@tcp(host:port)/dbname?parseTime=true
func NewHistoryRepo(dsn string) (*storage.SQLHistoryRepo, error) {
	if !strings.Contains(dsn, "parseTime") {
		if strings.Contains(dsn, "?") {
			dsn += "&parseTime=true"
		} else {
			dsn += "?parseTime=true"
		}
	}

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开MySQL数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	repo, err := storage.NewSQLHistoryRepo(db, NewDialect())
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}
