package dao

import (
	"database/sql"
	"time"
)

// BuildRecordDAO build_record表的数据访问对象（内部使用）
type BuildRecordDAO struct {
	TaskID         int64          `db:"task_id"`
	SetID          string         `db:"set_id"`
	ConfigID       string         `db:"config_id"`
	ConfigName     string         `db:"config_name"`
	Status         string         `db:"status"`
	ResultStatus   string         `db:"result_status"`
	Fingerprint    string         `db:"fingerprint"`
	DecisionReason string         `db:"decision_reason"`
	Description    sql.NullString `db:"description"`
	ErrorMessage   sql.NullString `db:"error_message"`
	BuildLog       sql.NullString `db:"build_log"`
	Attributes     sql.NullString `db:"attributes"` // JSON格式存储
	StartTime      sql.NullTime   `db:"start_time"`
	EndTime        sql.NullTime   `db:"end_time"`
	RecordTime     time.Time      `db:"record_time"`
}

// BuildRecordColumns build_record表的列（与 DAO 字段顺序一致）
var BuildRecordColumns = []string{
	"task_id", "set_id", "config_id", "config_name", "status", "result_status",
	"fingerprint", "decision_reason", "description", "error_message", "build_log",
	"attributes", "start_time", "end_time", "record_time",
}
