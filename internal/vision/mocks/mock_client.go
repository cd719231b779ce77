package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"illustrationapi/internal/model"
)

type MockClient struct {
	mock.Mock
}

func (m *MockClient) Invoke(ctx context.Context, images []model.PageImage, instruction string) (string, error) {
	args := m.Called(ctx, images, instruction)
	return args.String(0), args.Error(1)
}
