package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const historyTable = "workflow_history"

var historyColumns = []string{
	"id", "project_id", "workflow_type", "name", "status", "priority",
	"enqueue_time", "start_time", "end_time", "duration_ms",
	"steps", "error_message", "metadata",
}

// SQLHistoryRepo 基于sqlx的HistoryRepository实现（对外导出）
// 通过Dialect适配SQLite/MySQL/PostgreSQL的语法差异
type SQLHistoryRepo struct {
	db      *sqlx.DB
	dialect Dialect
}

// NewSQLHistoryRepo 创建历史存储实例（对外导出）
// 初始化表结构并执行方言的连接配置
func NewSQLHistoryRepo(db *sqlx.DB, dialect Dialect) (*SQLHistoryRepo, error) {
	repo := &SQLHistoryRepo{db: db, dialect: dialect}

	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("配置数据库失败: %w", err)
		}
	}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return repo, nil
}

// initSchema 初始化历史表结构
func (r *SQLHistoryRepo) initSchema() error {
	ts := r.dialect.TimestampType()
	text := r.dialect.TextType()

	createSQL := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(64) PRIMARY KEY,
		project_id VARCHAR(128) NOT NULL,
		workflow_type VARCHAR(128),
		name VARCHAR(255),
		status VARCHAR(32) NOT NULL,
		priority VARCHAR(16),
		enqueue_time %s NOT NULL,
		start_time %s,
		end_time %s NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		steps %s,
		error_message %s,
		metadata %s
	);`, historyTable, ts, ts, ts, text, text, text)

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_history_project ON %s(project_id);", historyTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_history_status ON %s(status);", historyTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_history_type ON %s(workflow_type);", historyTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_history_end_time ON %s(end_time);", historyTable),
	}

	if _, err := r.db.Exec(createSQL); err != nil {
		return fmt.Errorf("创建历史表失败: %w", err)
	}
	for _, stmt := range indexes {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("创建索引失败: %w", err)
		}
	}
	return nil
}

// GetDB 获取底层数据库连接（对外导出）
func (r *SQLHistoryRepo) GetDB() *sqlx.DB {
	return r.db
}

// Close 关闭数据库连接（对外导出）
func (r *SQLHistoryRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Record 追加写入一条终态记录（对外导出，幂等）
// 主键冲突（重复写入同一Item）时忽略而不报错
func (r *SQLHistoryRepo) Record(ctx context.Context, rec *HistoryRecord) error {
	stepsJSON, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("序列化步骤快照失败: %w", err)
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("序列化元数据失败: %w", err)
	}

	insertSQL := r.dialect.InsertIgnoreSQL(historyTable, historyColumns, "id")
	_, err = r.db.ExecContext(ctx, insertSQL,
		rec.ID, rec.ProjectID, rec.WorkflowType, rec.Name, rec.Status, rec.Priority,
		rec.EnqueueTime, rec.StartTime, rec.EndTime, rec.DurationMS,
		string(stepsJSON), rec.ErrorMessage, string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("写入历史记录失败: %w", err)
	}
	return nil
}

// buildWhere 构建过滤谓词（Query/Stats/Export共用，保证结果一致）
// startIndex用于PostgreSQL的$n占位符编号
func (r *SQLHistoryRepo) buildWhere(f Filter, startIndex int) (string, []any, int) {
	conds := make([]string, 0)
	args := make([]any, 0)
	idx := startIndex

	appendCond := func(expr string, vals ...any) {
		placeholders := make([]any, len(vals))
		for i := range vals {
			placeholders[i] = r.dialect.Placeholder(idx)
			idx++
		}
		conds = append(conds, fmt.Sprintf(expr, placeholders...))
		args = append(args, vals...)
	}

	if f.ProjectID != "" {
		appendCond("project_id = %s", f.ProjectID)
	}
	if f.Type != "" {
		appendCond("workflow_type = %s", f.Type)
	}
	if f.Status != "" {
		appendCond("status = %s", f.Status)
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		appendCond("(id LIKE %s OR error_message LIKE %s)", pattern, pattern)
	}
	if f.From != nil {
		appendCond("end_time >= %s", *f.From)
	}
	if f.To != nil {
		appendCond("end_time <= %s", *f.To)
	}

	if len(conds) == 0 {
		return "", args, idx
	}
	return " WHERE " + strings.Join(conds, " AND "), args, idx
}

// Query 过滤分页查询（对外导出）
// 按完成时间倒序，offset分页；返回当页记录与总数
func (r *SQLHistoryRepo) Query(ctx context.Context, f Filter, p Page) ([]*HistoryRecord, int64, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	where, args, idx := r.buildWhere(f, 1)

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", historyTable, where)
	var total int64
	if err := r.db.GetContext(ctx, &total, countSQL, args...); err != nil {
		return nil, 0, fmt.Errorf("查询历史总数失败: %w", err)
	}

	querySQL := fmt.Sprintf(
		"SELECT %s FROM %s%s ORDER BY end_time DESC LIMIT %s OFFSET %s",
		strings.Join(historyColumns, ", "), historyTable, where,
		r.dialect.Placeholder(idx), r.dialect.Placeholder(idx+1),
	)
	queryArgs := append(args, limit, offset)

	rows, err := r.db.QueryxContext(ctx, querySQL, queryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("查询历史记录失败: %w", err)
	}
	defer rows.Close()

	records := make([]*HistoryRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// rowScanner 行扫描接口（兼容 *sqlx.Rows 和 *sqlx.Row）
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord 扫描一行历史记录并反序列化JSON字段
func scanRecord(row rowScanner) (*HistoryRecord, error) {
	var rec HistoryRecord
	var stepsJSON, metadataJSON string
	err := row.Scan(
		&rec.ID, &rec.ProjectID, &rec.WorkflowType, &rec.Name, &rec.Status, &rec.Priority,
		&rec.EnqueueTime, &rec.StartTime, &rec.EndTime, &rec.DurationMS,
		&stepsJSON, &rec.ErrorMessage, &metadataJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("扫描历史记录失败: %w", err)
	}

	if stepsJSON != "" {
		if err := json.Unmarshal([]byte(stepsJSON), &rec.Steps); err != nil {
			return nil, fmt.Errorf("反序列化步骤快照失败: %w", err)
		}
	}
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("反序列化元数据失败: %w", err)
		}
	}
	return &rec, nil
}

// Stats 聚合统计（对外导出）
// 与Query共用buildWhere谓词，单次扫描计算，保证与列表一致
func (r *SQLHistoryRepo) Stats(ctx context.Context, f Filter) (*HistoryStats, error) {
	where, args, _ := r.buildWhere(f, 1)

	statsSQL := fmt.Sprintf(`
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(duration_ms), 0)
	FROM %s%s`, historyTable, where)

	var stats HistoryStats
	row := r.db.QueryRowxContext(ctx, statsSQL, args...)
	if err := row.Scan(&stats.Total, &stats.Completed, &stats.AvgDurationMS); err != nil {
		return nil, fmt.Errorf("计算聚合统计失败: %w", err)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total) * 100
	}
	return &stats, nil
}

// ExportCSV 导出历史记录为CSV（对外导出）
// 按同一过滤谓词全量导出（不分页），按完成时间倒序
func (r *SQLHistoryRepo) ExportCSV(ctx context.Context, f Filter, w io.Writer) error {
	where, args, _ := r.buildWhere(f, 1)

	querySQL := fmt.Sprintf(
		"SELECT %s FROM %s%s ORDER BY end_time DESC",
		strings.Join(historyColumns, ", "), historyTable, where,
	)

	rows, err := r.db.QueryxContext(ctx, querySQL, args...)
	if err != nil {
		return fmt.Errorf("查询历史记录失败: %w", err)
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	header := []string{"id", "project_id", "workflow_type", "name", "status", "priority",
		"enqueue_time", "start_time", "end_time", "duration_ms", "error_message"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("写入CSV表头失败: %w", err)
	}

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		startTime := ""
		if rec.StartTime != nil {
			startTime = rec.StartTime.Format(time.RFC3339)
		}
		row := []string{
			rec.ID, rec.ProjectID, rec.WorkflowType, rec.Name, rec.Status, rec.Priority,
			rec.EnqueueTime.Format(time.RFC3339), startTime, rec.EndTime.Format(time.RFC3339),
			strconv.FormatInt(rec.DurationMS, 10), rec.ErrorMessage,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("写入CSV行失败: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("CSV输出失败: %w", err)
	}
	return rows.Err()
}

// DeleteOlderThan 删除超过保留期的历史记录（对外导出）
// 只比较完成时间；返回实际删除数量
func (r *SQLHistoryRepo) DeleteOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("保留天数必须大于0")
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE end_time < %s", historyTable, r.dialect.Placeholder(1))
	result, err := r.db.ExecContext(ctx, deleteSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("删除历史记录失败: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("获取删除数量失败: %w", err)
	}
	return deleted, nil
}
