// Package chat runs one question/answer exchange against a document and
// records it in the document's history.
package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docchat/backend/internal/metrics"
	"github.com/docchat/backend/internal/query"
	"github.com/docchat/backend/internal/ragerr"
	"github.com/docchat/backend/internal/storage/models"
	"github.com/docchat/backend/pkg/logger"
)

type Store interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	CountChatTurns(ctx context.Context, docID string) (int, error)
	AppendChatTurns(ctx context.Context, docID string, turns []models.ChatTurn) ([]models.ChatTurn, error)
	GetChatHistory(ctx context.Context, docID string) ([]models.ChatTurn, error)
}

type Answerer interface {
	Answer(ctx context.Context, docID, question string, historyLength int) (*query.Answer, error)
}

type Service struct {
	store    Store
	answerer Answerer
}

type Result struct {
	Answer      string            `json:"answer"`
	SourcePages []int             `json:"source_pages"`
	Sources     []models.Source   `json:"sources"`
	History     []models.ChatTurn `json:"history"`
}

func NewService(store Store, answerer Answerer) *Service {
	return &Service{store: store, answerer: answerer}
}

// Ask answers content against docID and appends the user and assistant turns
// as one unit. Nothing is appended when any step fails.
func (s *Service) Ask(ctx context.Context, docID, userID, content string) (res *Result, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = ragerr.KindOf(err)
		}
		metrics.ChatTotal.WithLabelValues(status).Inc()
	}()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ragerr.New(ragerr.ErrInvalidInput, "message content is empty")
	}

	if _, err := s.store.GetDocument(ctx, docID); err != nil {
		return nil, err
	}

	historyLength, err := s.store.CountChatTurns(ctx, docID)
	if err != nil {
		return nil, err
	}

	answer, err := s.answerer.Answer(ctx, docID, content, historyLength)
	if err != nil {
		logger.Error("Chat request failed",
			zap.String("doc_id", docID),
			zap.String("user_id", userID),
			zap.String("kind", ragerr.KindOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	now := time.Now().UTC()
	history, err := s.store.AppendChatTurns(context.WithoutCancel(ctx), docID, []models.ChatTurn{
		{Role: models.RoleUser, Content: content, CreatedAt: now},
		{
			Role:        models.RoleAssistant,
			Content:     answer.Answer,
			SourcePages: answer.SourcePages,
			Sources:     answer.Sources,
			CreatedAt:   now,
		},
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Chat turn recorded",
		zap.String("doc_id", docID),
		zap.String("user_id", userID),
		zap.Int("history_length", len(history)),
		zap.Duration("duration", time.Since(start)),
	)

	return &Result{
		Answer:      answer.Answer,
		SourcePages: answer.SourcePages,
		Sources:     answer.Sources,
		History:     history,
	}, nil
}

func (s *Service) History(ctx context.Context, docID string) ([]models.ChatTurn, error) {
	if _, err := s.store.GetDocument(ctx, docID); err != nil {
		return nil, err
	}
	return s.store.GetChatHistory(ctx, docID)
}
