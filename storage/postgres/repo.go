package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"contract-extract/logic/review"
	"contract-extract/types"
)

// DocumentRepo 封装对抽取相关表的所有查询操作
type DocumentRepo struct {
	db *gorm.DB
}

// NewDocumentRepo 构造函数
func NewDocumentRepo(db *gorm.DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) DB() *gorm.DB {
	return r.db
}

// GetByDocID 根据 UUID 查询文档详情
func (r *DocumentRepo) GetByDocID(ctx context.Context, docID string) (*Document, error) {
	var doc Document
	err := r.db.WithContext(ctx).
		Where("doc_id = ?", docID).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetByFileName 根据文件名查询（上传查重用）
func (r *DocumentRepo) GetByFileName(ctx context.Context, filename string) (*Document, error) {
	var doc Document
	err := r.db.WithContext(ctx).
		Where("file_name = ?", filename).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetBySHA256 根据正文哈希查重
func (r *DocumentRepo) GetBySHA256(ctx context.Context, sha string) (*Document, error) {
	var doc Document
	err := r.db.WithContext(ctx).
		Where("sha256 = ?", sha).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Delete 级联删除文档（extractions / parties / obligations / evidence 一起走）
func (r *DocumentRepo) Delete(ctx context.Context, docID string) error {
	return r.db.WithContext(ctx).
		Select("Extractions", "Parties", "Terms", "Obligations").
		Delete(&Document{DocID: docID}).Error
}

// SearchDocuments 结构化条件筛选 DocID
// docIDs: 可选的文档ID列表（ES 先过滤后再传进来缩小范围）
func (r *DocumentRepo) SearchDocuments(ctx context.Context, conditions *types.FilterConditions, docIDs ...[]string) ([]string, error) {
	tx := r.db.WithContext(ctx).Model(&Document{}).Select("doc_id")

	prefiltered := len(docIDs) > 0 && len(docIDs[0]) > 0
	if prefiltered {
		tx = tx.Where("doc_id IN ?", docIDs[0])
	}

	// 没有 ES 预过滤时，参与方匹配退化成 parties 表子查询
	if !prefiltered && len(conditions.AnyParty) > 0 {
		var orConditions []string
		var orValues []interface{}
		for _, party := range conditions.AnyParty {
			orConditions = append(orConditions, "party_name LIKE ?")
			orValues = append(orValues, "%"+party+"%")
		}
		sub := r.db.Model(&Party{}).Select("doc_id").
			Where(strings.Join(orConditions, " OR "), orValues...)
		tx = tx.Where("doc_id IN (?)", sub)
	}

	if conditions.DocType != "" {
		tx = tx.Where("doc_type = ? OR file_name LIKE ?", conditions.DocType, "%"+conditions.DocType+"%")
	}

	if conditions.MinConfidence != nil {
		tx = tx.Where("confidence_score >= ?", *conditions.MinConfidence)
	}

	if conditions.DateRange != nil {
		if conditions.DateRange.Start != "" {
			tx = tx.Where("created_at >= ?", conditions.DateRange.Start)
		}
		if conditions.DateRange.End != "" {
			tx = tx.Where("created_at <= ?", conditions.DateRange.End)
		}
	}

	if conditions.AmountRange != nil {
		sub := r.db.Model(&FinancialTerm{}).Select("doc_id")
		if conditions.AmountRange.Min != nil {
			sub = sub.Where("amount >= ?", *conditions.AmountRange.Min)
		}
		if conditions.AmountRange.Max != nil {
			sub = sub.Where("amount <= ?", *conditions.AmountRange.Max)
		}
		tx = tx.Where("doc_id IN (?)", sub)
	}

	if conditions.ObligationsDue {
		sub := r.db.Model(&Obligation{}).Select("document_id").
			Where("status = ? AND superseded = ? AND due_date IS NOT NULL", types.ObligationOpen, false)
		tx = tx.Where("doc_id IN (?)", sub)
	}

	var resultDocIDs []string
	err := tx.Find(&resultDocIDs).Error
	return resultDocIDs, err
}

// ObligationsDueSoon 到期窗口内的未完成义务（对应原来的 obligations_due_60 视图）
func (r *DocumentRepo) ObligationsDueSoon(ctx context.Context, now time.Time, withinDays int) ([]Obligation, error) {
	deadline := now.AddDate(0, 0, withinDays)
	var rows []Obligation
	err := r.db.WithContext(ctx).
		Where("status IN ? AND superseded = ?", []string{types.ObligationOpen, types.ObligationOverdue}, false).
		Where("due_date IS NOT NULL AND due_date <= ?", deadline).
		Order("due_date asc").
		Find(&rows).Error
	return rows, err
}

// MarkOverdueObligations 定时任务批量把过期未完成的义务置为 overdue
func (r *DocumentRepo) MarkOverdueObligations(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&Obligation{}).
		Where("status = ? AND superseded = ? AND due_date < ?", types.ObligationOpen, false, now).
		Updates(map[string]interface{}{"status": types.ObligationOverdue, "updated_at": now})
	return result.RowsAffected, result.Error
}

// CreateReviewTask 落一条审核任务（只追加，不动同文档的历史任务）
func (r *DocumentRepo) CreateReviewTask(ctx context.Context, docID, docSHA string, d *review.Decision) (*ReviewTask, error) {
	task := &ReviewTask{
		ID:          uuid.New().String(),
		TaskType:    d.TaskType,
		Reason:      d.Reason,
		DocID:       docID,
		DocSHA256:   docSHA,
		Priority:    d.Priority,
		Criticality: d.Criticality,
		Confidence:  d.Confidence,
		Impact:      d.Impact,
		Status:      "pending",
		CreatedAt:   time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// ListReviewTasks 按优先级倒序列出审核队列
func (r *DocumentRepo) ListReviewTasks(ctx context.Context, status string, limit int) ([]ReviewTask, error) {
	tx := r.db.WithContext(ctx).Model(&ReviewTask{})
	if status != "" {
		tx = tx.Where("status = ?", status)
	}
	if limit <= 0 {
		limit = 50
	}
	var tasks []ReviewTask
	err := tx.Order("priority desc, created_at desc").Limit(limit).Find(&tasks).Error
	return tasks, err
}
