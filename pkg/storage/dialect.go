package storage

// Dialect SQL方言接口（对外导出）
// 封装不同数据库的SQL语法差异
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// Placeholder 返回指定位置的占位符
	// SQLite/MySQL: ? (忽略index)
	// PostgreSQL: $1, $2, ...
	Placeholder(index int) string

	// InsertIgnoreSQL 返回按主键冲突即忽略的INSERT语句
	// SQLite: INSERT OR IGNORE
	// MySQL: INSERT IGNORE
	// PostgreSQL: ON CONFLICT (id) DO NOTHING
	InsertIgnoreSQL(tableName string, columns []string, conflictColumn string) string

	// ConfigureDB 返回建连后需要执行的配置语句（如SQLite的PRAGMA）
	ConfigureDB() []string

	// TimestampType 返回时间戳类型
	// SQLite/MySQL: DATETIME
	// PostgreSQL: TIMESTAMP
	TimestampType() string

	// TextType 返回文本类型
	TextType() string
}
