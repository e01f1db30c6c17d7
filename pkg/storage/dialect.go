package storage

// Dialect 数据库方言接口（对外导出）
// 屏蔽 SQLite / MySQL / PostgreSQL 在 DDL、UPSERT 和连接配置上的差异
type Dialect interface {
	// Name 返回方言名称（如 "sqlite", "mysql", "postgres"）
	Name() string

	// UpsertSQL 返回INSERT或UPDATE的SQL语句（sqlx 命名参数形式）
	// conflictColumn: 冲突判断列（通常是主键）
	// updateColumns: 需要更新的列（不含主键）
	UpsertSQL(tableName string, columns []string, conflictColumn string, updateColumns []string) string

	// CreateTableSQL 返回创建表的DDL语句
	CreateTableSQL(schema string) string

	// InlineIndexes 索引是否需要写在建表语句内
	// MySQL 不支持 CREATE INDEX IF NOT EXISTS
	InlineIndexes() bool

	// ConfigureDB 配置数据库连接（如SQLite的PRAGMA）
	ConfigureDB() []string

	// TextType 返回长文本类型
	TextType() string

	// TimestampType 返回时间戳类型
	TimestampType() string
}
