package queue

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/taskdeck/flowqueue/pkg/storage"
)

// RetentionScheduler 历史记录保留期清理调度器（对外导出）
// 按Cron表达式周期性删除超过保留期的历史记录
type RetentionScheduler struct {
	cron    *cron.Cron
	history storage.HistoryRepository
	days    int
	entryID cron.EntryID
}

// NewRetentionScheduler 创建清理调度器（对外导出）
// retentionDays: 保留天数，完成时间早于该天数的记录被删除
func NewRetentionScheduler(history storage.HistoryRepository, retentionDays int) *RetentionScheduler {
	return &RetentionScheduler{
		cron:    cron.New(cron.WithSeconds()),
		history: history,
		days:    retentionDays,
	}
}

// Start 按Cron表达式启动周期清理（对外导出）
// cronExpr使用6字段表达式（支持秒级精度），如 "0 0 3 * * *" 表示每天3点
func (rs *RetentionScheduler) Start(cronExpr string) error {
	if rs.days <= 0 {
		return fmt.Errorf("保留天数必须大于0")
	}

	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(cronExpr); err != nil {
		return fmt.Errorf("Cron表达式无效: %w", err)
	}

	entryID, err := rs.cron.AddFunc(cronExpr, rs.runCleanup)
	if err != nil {
		return fmt.Errorf("添加Cron任务失败: %w", err)
	}
	rs.entryID = entryID

	rs.cron.Start()
	log.Printf("🗓️  [保留期清理] 已启动, 表达式=%s, 保留天数=%d", cronExpr, rs.days)
	return nil
}

// runCleanup 执行一次清理
func (rs *RetentionScheduler) runCleanup() {
	deleted, err := rs.history.DeleteOlderThan(context.Background(), rs.days)
	if err != nil {
		log.Printf("警告: 历史记录清理失败: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("🧹 [保留期清理] 删除%d条超过%d天的历史记录", deleted, rs.days)
	}
}

// Stop 停止调度器（对外导出）
func (rs *RetentionScheduler) Stop() {
	ctx := rs.cron.Stop()
	<-ctx.Done()
}
