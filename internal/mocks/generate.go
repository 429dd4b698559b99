// Package mocks provides mock implementations for testing the docworker job system.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the
// core port interfaces. The JobRepository port is large and fast-moving, so tests
// use the hand-written stub in the jobstest subpackage instead of a generated mock.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=task_dispatcher_mock.go github.com/docbuild/docworker/internal/core TaskDispatcher

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=status_publisher_mock.go github.com/docbuild/docworker/internal/core StatusPublisher

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=docset_repository_mock.go github.com/docbuild/docworker/internal/core DocsetRepository

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=reaper_repository_mock.go github.com/docbuild/docworker/internal/core ReaperRepository
