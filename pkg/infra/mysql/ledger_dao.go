package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProcessedAssignment 已处理任务记录
// 只保留去重所需字段（任务 ID 即幂等键）
type ProcessedAssignment struct {
	AssignmentID string    `gorm:"column:assignment_id;primaryKey;size:36"`
	JobType      string    `gorm:"column:job_type;size:32"`
	ProcessedAt  time.Time `gorm:"column:processed_at"`
}

// TableName 指定表名
func (ProcessedAssignment) TableName() string {
	return "processed_assignments"
}

// LedgerDAO 幂等账本数据访问对象
type LedgerDAO struct {
	db *gorm.DB
}

// NewLedgerDAO 创建 LedgerDAO 实例
func NewLedgerDAO(dsn string) (*LedgerDAO, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 账本表结构简单，直接迁移
	if err := db.AutoMigrate(&ProcessedAssignment{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger table: %w", err)
	}

	return &LedgerDAO{
		db: db,
	}, nil
}

// MarkProcessed 登记任务 ID
// 首次登记返回 true；主键冲突（重复投递）返回 false，不报错
func (dao *LedgerDAO) MarkProcessed(ctx context.Context, assignmentID, jobType string) (bool, error) {
	record := &ProcessedAssignment{
		AssignmentID: assignmentID,
		JobType:      jobType,
		ProcessedAt:  time.Now().UTC(),
	}

	result := dao.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)

	if result.Error != nil {
		return false, fmt.Errorf("failed to mark assignment processed: %w", result.Error)
	}

	// RowsAffected == 0 表示主键已存在（重复投递）
	return result.RowsAffected > 0, nil
}

// Close 关闭数据库连接
func (dao *LedgerDAO) Close() error {
	sqlDB, err := dao.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
