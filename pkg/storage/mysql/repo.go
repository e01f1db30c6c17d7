package mysql

import (
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/LENAX/build-coordinator/pkg/storage/sqlstore"
)

// NewBuildRecordRepoFromDSN 通过DSN创建MySQL构建记录仓库（对外导出）
// dsn格式: user:password@tcp(host:port)/dbname，自动开启 parseTime 并使用 UTC
func NewBuildRecordRepoFromDSN(dsn string, pool sqlstore.PoolOptions) (*sqlstore.Repo, error) {
	normalized, err := NormalizeDSN(dsn)
	if err != nil {
		return nil, err
	}
	repo, err := sqlstore.Open("mysql", normalized, NewMySQLDialect(), pool)
	if err != nil {
		return nil, fmt.Errorf("创建MySQL仓库失败: %w", err)
	}
	return repo, nil
}

// NormalizeDSN 确保DSN包含 parseTime=true
func NormalizeDSN(dsn string) (string, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("解析MySQL DSN失败: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
