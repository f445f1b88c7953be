// Package repository 提供了数据访问层的实现。
package repository

import (
	"sitechat-go/internal/model"

	"gorm.io/gorm"
)

// TrainingRepository 定义了训练问答数据的持久化操作。
type TrainingRepository interface {
	Create(pair *model.TrainingPair) error
	Update(pair *model.TrainingPair) error
	Delete(id uint) error
	FindByID(id uint) (*model.TrainingPair, error)
	// ListActive 按主键升序返回所有启用中的问答对，遍历顺序稳定。
	ListActive() ([]model.TrainingPair, error)
	FindWithPagination(offset, limit int) ([]model.TrainingPair, int64, error)
	CreateBatch(pairs []model.TrainingPair) error
	FindAll() ([]model.TrainingPair, error)
}

type trainingRepository struct {
	db *gorm.DB
}

// NewTrainingRepository 创建一个新的 TrainingRepository 实例。
func NewTrainingRepository(db *gorm.DB) TrainingRepository {
	return &trainingRepository{db: db}
}

func (r *trainingRepository) Create(pair *model.TrainingPair) error {
	return r.db.Create(pair).Error
}

func (r *trainingRepository) Update(pair *model.TrainingPair) error {
	return r.db.Save(pair).Error
}

func (r *trainingRepository) Delete(id uint) error {
	return r.db.Delete(&model.TrainingPair{}, id).Error
}

func (r *trainingRepository) FindByID(id uint) (*model.TrainingPair, error) {
	var pair model.TrainingPair
	err := r.db.First(&pair, id).Error
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

// ListActive 返回所有启用中的问答对。匹配方要求稳定的遍历顺序，
// 因此显式按 id 排序。
func (r *trainingRepository) ListActive() ([]model.TrainingPair, error) {
	var pairs []model.TrainingPair
	err := r.db.Where("status = ?", model.TrainingStatusActive).Order("id asc").Find(&pairs).Error
	return pairs, err
}

// FindWithPagination 分页检索训练数据，返回列表与总数。
func (r *trainingRepository) FindWithPagination(offset, limit int) ([]model.TrainingPair, int64, error) {
	var pairs []model.TrainingPair
	var total int64

	db := r.db.Model(&model.TrainingPair{})

	err := db.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = db.Order("id asc").Offset(offset).Limit(limit).Find(&pairs).Error
	if err != nil {
		return nil, 0, err
	}

	return pairs, total, nil
}

func (r *trainingRepository) CreateBatch(pairs []model.TrainingPair) error {
	if len(pairs) == 0 {
		return nil
	}
	return r.db.Create(&pairs).Error
}

func (r *trainingRepository) FindAll() ([]model.TrainingPair, error) {
	var pairs []model.TrainingPair
	err := r.db.Order("id asc").Find(&pairs).Error
	return pairs, err
}
