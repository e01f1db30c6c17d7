// Package sqlstore 基于 sqlx 的构建记录仓库，SQL 差异由 storage.Dialect 处理
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
	"github.com/LENAX/build-coordinator/pkg/storage"
	"github.com/LENAX/build-coordinator/pkg/storage/dao"
)

const tableName = "build_record"

// PoolOptions 连接池配置
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Apply 应用到连接池，零值保持驱动默认
func (o PoolOptions) Apply(db *sqlx.DB) {
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.MaxIdleConns > 0 {
		db.SetMaxIdleConns(o.MaxIdleConns)
	}
	if o.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.ConnMaxLifetime)
	}
	if o.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(o.ConnMaxIdleTime)
	}
}

// Repo 构建记录仓库的通用 SQL 实现（对外导出）
type Repo struct {
	db        *sqlx.DB
	dialect   storage.Dialect
	upsertSQL string
}

// NewRepo 创建仓库并初始化表结构
func NewRepo(db *sqlx.DB, dialect storage.Dialect) (*Repo, error) {
	r := &Repo{
		db:        db,
		dialect:   dialect,
		upsertSQL: dialect.UpsertSQL(tableName, dao.BuildRecordColumns, "task_id", dao.BuildRecordColumns[1:]),
	}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return r, nil
}

// Open 打开数据库连接、执行方言配置并创建仓库
func Open(driverName, dsn string, dialect storage.Dialect, pool PoolOptions) (*Repo, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	pool.Apply(db)
	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("配置%s失败: %w", dialect.Name(), err)
		}
	}
	repo, err := NewRepo(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// GetDB 获取底层数据库连接（对外导出）
func (r *Repo) GetDB() *sqlx.DB {
	return r.db
}

// Dialect 当前方言
func (r *Repo) Dialect() storage.Dialect {
	return r.dialect
}

// Close 关闭数据库连接（对外导出）
func (r *Repo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// initSchema 初始化数据库表结构
func (r *Repo) initSchema() error {
	for _, stmt := range schemaStatements(r.dialect) {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("执行DDL失败: %w", err)
		}
	}
	return nil
}

type index struct {
	name    string
	columns string
}

func schemaStatements(d storage.Dialect) []string {
	ts, text := d.TimestampType(), d.TextType()
	defs := []string{
		"task_id BIGINT PRIMARY KEY",
		"set_id VARCHAR(64) NOT NULL",
		"config_id VARCHAR(255) NOT NULL",
		"config_name VARCHAR(255) NOT NULL",
		"status VARCHAR(32) NOT NULL",
		"result_status VARCHAR(32) NOT NULL",
		"fingerprint VARCHAR(255) NOT NULL",
		"decision_reason VARCHAR(64) NOT NULL",
		"description " + text,
		"error_message " + text,
		"build_log " + text,
		"attributes " + text,
		"start_time " + ts + " NULL",
		"end_time " + ts + " NULL",
		"record_time " + ts + " NOT NULL",
	}
	indexes := []index{
		{name: "idx_build_record_config_status", columns: "config_id, status"},
		{name: "idx_build_record_set", columns: "set_id"},
	}
	if d.InlineIndexes() {
		for _, idx := range indexes {
			defs = append(defs, fmt.Sprintf("INDEX %s (%s)", idx.name, idx.columns))
		}
	}

	stmts := []string{d.CreateTableSQL(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n\t%s\n);", tableName, strings.Join(defs, ",\n\t")))}
	if !d.InlineIndexes() {
		for _, idx := range indexes {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);", idx.name, tableName, idx.columns))
		}
	}
	return stmts
}

// Store 实现 BuildRecordRepository（同一任务重复保存时覆盖）
func (r *Repo) Store(ctx context.Context, snap task.TaskSnapshot, result types.BuildResult) error {
	d, err := toDAO(storage.NewBuildRecord(snap, result))
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExecContext(ctx, r.upsertSQL, d); err != nil {
		return fmt.Errorf("保存构建记录失败: TaskID=%s: %w", snap.ID, err)
	}
	return nil
}

// LastSuccessfulFingerprint 实现 rebuild.Oracle
func (r *Repo) LastSuccessfulFingerprint(ctx context.Context, configID string) (types.Fingerprint, bool, error) {
	query := r.db.Rebind(fmt.Sprintf(
		"SELECT fingerprint FROM %s WHERE config_id = ? AND status = ? ORDER BY task_id DESC LIMIT 1", tableName))
	var fp string
	err := r.db.GetContext(ctx, &fp, query, configID, string(types.StatusDone))
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("查询构建指纹失败: ConfigID=%s: %w", configID, err)
	}
	return types.Fingerprint(fp), true, nil
}

// GetRecord 按任务ID查询
func (r *Repo) GetRecord(ctx context.Context, taskID types.TaskID) (*storage.BuildRecord, error) {
	query := r.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE task_id = ?",
		strings.Join(dao.BuildRecordColumns, ", "), tableName))
	var d dao.BuildRecordDAO
	err := r.db.GetContext(ctx, &d, query, int64(taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: TaskID=%s", storage.ErrRecordNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询构建记录失败: %w", err)
	}
	return fromDAO(&d)
}

// ListRecords 按条件查询
func (r *Repo) ListRecords(ctx context.Context, filter storage.RecordFilter) ([]*storage.BuildRecord, error) {
	var (
		conds []string
		args  []any
	)
	if filter.SetID != "" {
		conds = append(conds, "set_id = ?")
		args = append(args, filter.SetID)
	}
	if filter.ConfigID != "" {
		conds = append(conds, "config_id = ?")
		args = append(args, filter.ConfigID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(dao.BuildRecordColumns, ", "), tableName)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY task_id DESC LIMIT %d", filter.EffectiveLimit())

	var rows []dao.BuildRecordDAO
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("查询构建记录失败: %w", err)
	}
	records := make([]*storage.BuildRecord, 0, len(rows))
	for i := range rows {
		rec, err := fromDAO(&rows[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// MaxTaskID 已记录的最大任务ID
func (r *Repo) MaxTaskID(ctx context.Context) (types.TaskID, error) {
	var maxID sql.NullInt64
	if err := r.db.GetContext(ctx, &maxID, fmt.Sprintf("SELECT MAX(task_id) FROM %s", tableName)); err != nil {
		return 0, fmt.Errorf("查询最大任务ID失败: %w", err)
	}
	return types.TaskID(maxID.Int64), nil
}

func toDAO(rec *storage.BuildRecord) (*dao.BuildRecordDAO, error) {
	d := &dao.BuildRecordDAO{
		TaskID:         int64(rec.TaskID),
		SetID:          rec.SetID,
		ConfigID:       rec.ConfigID,
		ConfigName:     rec.ConfigName,
		Status:         string(rec.Status),
		ResultStatus:   string(rec.ResultStatus),
		Fingerprint:    string(rec.Fingerprint),
		DecisionReason: rec.DecisionReason,
		Description:    nullString(rec.Description),
		ErrorMessage:   nullString(rec.ErrorMessage),
		BuildLog:       nullString(rec.Log),
		StartTime:      nullTime(rec.StartTime),
		EndTime:        nullTime(rec.EndTime),
		RecordTime:     rec.RecordTime.UTC(),
	}
	if len(rec.Attributes) > 0 {
		data, err := json.Marshal(rec.Attributes)
		if err != nil {
			return nil, fmt.Errorf("序列化构建属性失败: %w", err)
		}
		d.Attributes = nullString(string(data))
	}
	return d, nil
}

func fromDAO(d *dao.BuildRecordDAO) (*storage.BuildRecord, error) {
	rec := &storage.BuildRecord{
		TaskID:         types.TaskID(d.TaskID),
		SetID:          d.SetID,
		ConfigID:       d.ConfigID,
		ConfigName:     d.ConfigName,
		Status:         types.BuildCoordinationStatus(d.Status),
		ResultStatus:   types.CompletionStatus(d.ResultStatus),
		Fingerprint:    types.Fingerprint(d.Fingerprint),
		DecisionReason: d.DecisionReason,
		Description:    d.Description.String,
		ErrorMessage:   d.ErrorMessage.String,
		Log:            d.BuildLog.String,
		RecordTime:     d.RecordTime,
	}
	if d.StartTime.Valid {
		rec.StartTime = d.StartTime.Time
	}
	if d.EndTime.Valid {
		rec.EndTime = d.EndTime.Time
	}
	if d.Attributes.Valid && d.Attributes.String != "" {
		if err := json.Unmarshal([]byte(d.Attributes.String), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("反序列化构建属性失败: TaskID=%d: %w", d.TaskID, err)
		}
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// 确保实现接口
var _ storage.BuildRecordRepository = (*Repo)(nil)
