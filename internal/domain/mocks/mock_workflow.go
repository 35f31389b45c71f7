// Package mocks holds testify mocks of the domain interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gooze.dev/pkg/schemata/internal/domain"
)

// MockWorkflow is a mock of domain.Workflow.
type MockWorkflow struct {
	mock.Mock
}

var _ domain.Workflow = (*MockWorkflow)(nil)

// NewMockWorkflow creates a MockWorkflow whose expectations are asserted
// when the test ends.
func NewMockWorkflow(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockWorkflow {
	w := &MockWorkflow{}
	w.Mock.Test(t)

	t.Cleanup(func() { w.AssertExpectations(t) })

	return w
}

// Estimate provides a mock function with the given fields: ctx, args.
func (w *MockWorkflow) Estimate(ctx context.Context, args domain.EstimateArgs) error {
	ret := w.Called(ctx, args)
	return ret.Error(0)
}

// Test provides a mock function with the given fields: ctx, args.
func (w *MockWorkflow) Test(ctx context.Context, args domain.TestArgs) error {
	ret := w.Called(ctx, args)
	return ret.Error(0)
}

// View provides a mock function with the given fields: ctx, args.
func (w *MockWorkflow) View(ctx context.Context, args domain.ViewArgs) error {
	ret := w.Called(ctx, args)
	return ret.Error(0)
}
