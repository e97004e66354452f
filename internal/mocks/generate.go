// Package mocks holds gomock mocks for the crossposter interfaces.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=publisher_mock.go github.com/GanWeaving/social-cross-post/internal/fanout Publisher,AnalyticsSink
