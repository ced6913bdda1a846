package sweeper

import (
	"context"
)

// Sweeper is a long-running background job over the traceability ledger,
// such as the periodic chain integrity verification loop.
//
//go:generate mockgen -source=sweeper.go -destination=../mocks/sweeper.go -package=mocks -mock_names=Sweeper=MockSweeper
type Sweeper interface {
	// Start runs the sweep loop, blocking until the context is canceled
	// or Stop is called
	Start(ctx context.Context) error

	// Stop ends the loop and waits for in-flight sweep work to drain
	Stop(ctx context.Context) error

	// Name identifies the sweeper in logs
	Name() string
}
