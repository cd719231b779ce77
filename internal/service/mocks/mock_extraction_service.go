package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"illustrationapi/internal/model"
	"illustrationapi/internal/service"
)

type MockExtractionService struct {
	mock.Mock
}

func (m *MockExtractionService) Extract(ctx context.Context, req service.ExtractRequest) (*model.ExtractionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ExtractionResult), args.Error(1)
}
