package service

import (
	"strings"
	"testing"

	"sitechat-go/internal/config"
	"sitechat-go/internal/model"
)

type recordingTrainingRepo struct {
	fakeTrainingRepo
	batch []model.TrainingPair
}

func (r *recordingTrainingRepo) CreateBatch(pairs []model.TrainingPair) error {
	r.batch = pairs
	return nil
}

func TestImportCSVSkipsHeaderAndBadRows(t *testing.T) {
	repo := &recordingTrainingRepo{}
	svc := NewTrainingService(repo, config.MinIOConfig{})

	csvData := strings.Join([]string{
		"question,answer",
		`"What are your hours?","9-5 Mon-Fri",general`,
		`"  What&#8217;s the plan?  ","The plan."`,
		`"missing answer",""`,
		"",
		`"Do you ship?","Yes."`,
	}, "\n")

	count, err := svc.ImportCSV(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("ImportCSV returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("imported %d pairs, want 3", count)
	}

	if repo.batch[0].Question != "What are your hours?" || repo.batch[0].Category != "general" {
		t.Errorf("unexpected first pair: %+v", repo.batch[0])
	}
	// 实体解码 + 去空白在写入时完成
	if repo.batch[1].Question != "What’s the plan?" {
		t.Errorf("question not normalized on import: %q", repo.batch[1].Question)
	}
	for _, p := range repo.batch {
		if p.Status != model.TrainingStatusActive {
			t.Errorf("imported pair must default to active, got %q", p.Status)
		}
	}
}

func TestCreateRejectsEmptyPair(t *testing.T) {
	svc := NewTrainingService(&recordingTrainingRepo{}, config.MinIOConfig{})
	if _, err := svc.Create("   ", "answer", ""); err != ErrInvalidTrainingPair {
		t.Fatalf("expected ErrInvalidTrainingPair, got %v", err)
	}
	if _, err := svc.Create("question", "", ""); err != ErrInvalidTrainingPair {
		t.Fatalf("expected ErrInvalidTrainingPair, got %v", err)
	}
}
