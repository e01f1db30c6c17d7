package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/LENAX/build-coordinator/pkg/storage/sqlstore"
)

// NewBuildRecordRepoFromDSN 通过DSN创建SQLite构建记录仓库（对外导出）
// 数据库文件所在目录不存在时自动创建
func NewBuildRecordRepoFromDSN(dsn string, pool sqlstore.PoolOptions) (*sqlstore.Repo, error) {
	if err := ensureDir(dsn); err != nil {
		return nil, err
	}
	repo, err := sqlstore.Open("sqlite3", dsn, NewSQLiteDialect(), pool)
	if err != nil {
		return nil, fmt.Errorf("创建SQLite仓库失败: %w", err)
	}
	return repo, nil
}

func ensureDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建数据库目录失败: %w", err)
	}
	return nil
}
