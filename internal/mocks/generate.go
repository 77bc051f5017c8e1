// Package mocks provides gomock implementations of the notifier ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	runs := mocks.NewMockRunRepository(ctrl)
//	runs.EXPECT().GetByID(gomock.Any(), "run-1").Return(run, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=run_repository_mock.go github.com/appointflow/notifier/internal/core RunRepository

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=step_store_mock.go github.com/appointflow/notifier/internal/core StepStore

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=transport_mock.go github.com/appointflow/notifier/internal/core Transport
