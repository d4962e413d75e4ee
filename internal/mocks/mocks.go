package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"broadcast-service/internal/models"
	"broadcast-service/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, kind models.Kind, body, sender string) (models.Message, error) {
	args := m.Called(ctx, kind, body, sender)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Recent(ctx context.Context, limit int) ([]models.Message, error) {
	args := m.Called(ctx, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
