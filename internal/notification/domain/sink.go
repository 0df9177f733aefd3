package domain

import "context"

//go:generate mockgen -source=sink.go -destination=../mocks/mock_sink.go -package=mocks

// Sink accepts notifications. Callers treat delivery as best effort.
type Sink interface {
	Notify(ctx context.Context, msg Message) error
}
