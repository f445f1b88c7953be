// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"sitechat-go/internal/config"
	"sitechat-go/internal/model"
	"sitechat-go/internal/repository"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/storage"
	"strings"
	"time"
)

// ErrInvalidTrainingPair 表示问答对缺少问题或答案。
var ErrInvalidTrainingPair = errors.New("training pair requires question and answer")

// TrainingService 定义了训练数据维护的业务操作。
type TrainingService interface {
	Create(question, answer, category string) (*model.TrainingPair, error)
	Update(id uint, question, answer, category, status string) (*model.TrainingPair, error)
	Delete(id uint) error
	List(offset, limit int) ([]model.TrainingPair, int64, error)
	// ImportCSV 解析 question,answer[,category] 格式的 CSV 并批量入库。
	ImportCSV(r io.Reader) (int, error)
	// ExportCSV 导出全部训练数据到对象存储，返回带签名的下载链接。
	ExportCSV(ctx context.Context) (string, error)
}

type trainingService struct {
	trainingRepo repository.TrainingRepository
	minioCfg     config.MinIOConfig
}

// NewTrainingService 创建一个新的 TrainingService 实例。
func NewTrainingService(trainingRepo repository.TrainingRepository, minioCfg config.MinIOConfig) TrainingService {
	return &trainingService{trainingRepo: trainingRepo, minioCfg: minioCfg}
}

// normalizeQuestion 在写入时做实体解码与去空白，
// 避免训练库里混入编码不一致的问题文本。
func normalizeQuestion(q string) string {
	return strings.TrimSpace(html.UnescapeString(q))
}

// Create 新增一条问答对，默认启用。
func (s *trainingService) Create(question, answer, category string) (*model.TrainingPair, error) {
	question = normalizeQuestion(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return nil, ErrInvalidTrainingPair
	}

	pair := &model.TrainingPair{
		Question: question,
		Answer:   answer,
		Category: strings.TrimSpace(category),
		Status:   model.TrainingStatusActive,
	}
	if err := s.trainingRepo.Create(pair); err != nil {
		return nil, fmt.Errorf("failed to create training pair: %w", err)
	}
	return pair, nil
}

// Update 修改一条问答对，空字段保持原值。
func (s *trainingService) Update(id uint, question, answer, category, status string) (*model.TrainingPair, error) {
	pair, err := s.trainingRepo.FindByID(id)
	if err != nil {
		return nil, err
	}

	if question != "" {
		pair.Question = normalizeQuestion(question)
	}
	if answer != "" {
		pair.Answer = strings.TrimSpace(answer)
	}
	if category != "" {
		pair.Category = strings.TrimSpace(category)
	}
	if status != "" {
		if status != model.TrainingStatusActive && status != model.TrainingStatusInactive {
			return nil, fmt.Errorf("invalid status %q", status)
		}
		pair.Status = status
	}

	if err := s.trainingRepo.Update(pair); err != nil {
		return nil, fmt.Errorf("failed to update training pair: %w", err)
	}
	return pair, nil
}

func (s *trainingService) Delete(id uint) error {
	return s.trainingRepo.Delete(id)
}

func (s *trainingService) List(offset, limit int) ([]model.TrainingPair, int64, error) {
	return s.trainingRepo.FindWithPagination(offset, limit)
}

// ImportCSV 解析 CSV 并批量入库，返回导入条数。
// 首行若是表头（question,answer）则自动跳过，空行与残缺行忽略。
func (s *trainingService) ImportCSV(r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var pairs []model.TrainingPair
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to parse csv at line %d: %w", line+1, err)
		}
		line++

		if len(record) < 2 {
			continue
		}
		question := normalizeQuestion(record[0])
		answer := strings.TrimSpace(record[1])
		if line == 1 && strings.EqualFold(question, "question") && strings.EqualFold(answer, "answer") {
			continue
		}
		if question == "" || answer == "" {
			continue
		}

		pair := model.TrainingPair{
			Question: question,
			Answer:   answer,
			Status:   model.TrainingStatusActive,
		}
		if len(record) >= 3 {
			pair.Category = strings.TrimSpace(record[2])
		}
		pairs = append(pairs, pair)
	}

	if err := s.trainingRepo.CreateBatch(pairs); err != nil {
		return 0, fmt.Errorf("failed to save imported pairs: %w", err)
	}
	log.Infof("训练数据导入完成: %d 条", len(pairs))
	return len(pairs), nil
}

// ExportCSV 导出全部训练数据，归档到 MinIO 并返回 24 小时有效的下载链接。
func (s *trainingService) ExportCSV(ctx context.Context) (string, error) {
	pairs, err := s.trainingRepo.FindAll()
	if err != nil {
		return "", fmt.Errorf("failed to load training pairs: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"question", "answer", "category", "status"})
	for _, p := range pairs {
		_ = w.Write([]string{p.Question, p.Answer, p.Category, p.Status})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to build csv: %w", err)
	}

	objectName := fmt.Sprintf("training/export-%s.csv", time.Now().Format("20060102-150405"))
	if err := storage.UploadObject(ctx, s.minioCfg.BucketName, objectName, buf.Bytes(), "text/csv"); err != nil {
		return "", fmt.Errorf("failed to upload export: %w", err)
	}

	url, err := storage.GetPresignedURL(s.minioCfg.BucketName, objectName, 24*time.Hour)
	if err != nil {
		return "", fmt.Errorf("failed to presign export url: %w", err)
	}
	log.Infof("训练数据导出完成: %s (%d 条)", objectName, len(pairs))
	return url, nil
}
