package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"illustrationapi/internal/model"
)

type MockTemplateRepository struct {
	mock.Mock
}

func (m *MockTemplateRepository) GetTemplate(ctx context.Context, carrier, product string) (*model.Template, error) {
	args := m.Called(ctx, carrier, product)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Template), args.Error(1)
}

func (m *MockTemplateRepository) SaveTemplate(ctx context.Context, t *model.Template) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockTemplateRepository) IncrementUsage(ctx context.Context, carrier, product string) error {
	args := m.Called(ctx, carrier, product)
	return args.Error(0)
}
