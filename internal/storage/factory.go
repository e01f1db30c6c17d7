package storage

import (
	"fmt"

	"github.com/LENAX/build-coordinator/pkg/storage"
	"github.com/LENAX/build-coordinator/pkg/storage/memory"
	"github.com/LENAX/build-coordinator/pkg/storage/mysql"
	"github.com/LENAX/build-coordinator/pkg/storage/postgres"
	pkgsqlite "github.com/LENAX/build-coordinator/pkg/storage/sqlite"
	"github.com/LENAX/build-coordinator/pkg/storage/sqlstore"
)

// DatabaseFactory 数据库工厂接口（内部使用）
type DatabaseFactory interface {
	// CreateBuildRecordRepo 获取构建记录Repository
	CreateBuildRecordRepo() (storage.BuildRecordRepository, error)
	// Close 关闭数据库连接
	Close() error
}

// NewDatabaseFactory 创建数据库工厂（内部方法）
// dbType: 数据库类型（sqlite/mysql/postgres/memory）
// dsn: 数据库连接字符串（memory 忽略）
func NewDatabaseFactory(dbType, dsn string, pool sqlstore.PoolOptions) (DatabaseFactory, error) {
	var (
		repo storage.BuildRecordRepository
		err  error
	)
	switch dbType {
	case "sqlite":
		repo, err = pkgsqlite.NewBuildRecordRepoFromDSN(dsn, pool)
	case "mysql":
		repo, err = mysql.NewBuildRecordRepoFromDSN(dsn, pool)
	case "postgres", "postgresql":
		repo, err = postgres.NewBuildRecordRepoFromDSN(dsn, pool)
	case "memory":
		repo = memory.NewRepo()
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s repository failed: %w", dbType, err)
	}
	return &repoFactory{dbType: dbType, repo: repo}, nil
}

// repoFactory 持有单个仓库实例（内部实现）
type repoFactory struct {
	dbType string
	repo   storage.BuildRecordRepository
}

func (f *repoFactory) CreateBuildRecordRepo() (storage.BuildRecordRepository, error) {
	if f.repo == nil {
		return nil, fmt.Errorf("%s factory closed", f.dbType)
	}
	return f.repo, nil
}

func (f *repoFactory) Close() error {
	if f.repo == nil {
		return nil
	}
	err := f.repo.Close()
	f.repo = nil
	return err
}
