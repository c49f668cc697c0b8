package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/interfaces"
)

// Budget guards provider spend with a per-provider daily call cap.
// Counters are date-scoped so they reset naturally at midnight UTC.
type Budget struct {
	usage       interfaces.UsageStorage
	maxCalls    int
	logger      arbor.ILogger
	currentDate func() string // Overridable in tests
}

// NewBudget creates a budget guard. A maxCalls of zero disables the cap.
func NewBudget(usage interfaces.UsageStorage, maxCalls int, logger arbor.ILogger) *Budget {
	return &Budget{
		usage:    usage,
		maxCalls: maxCalls,
		logger:   logger,
		currentDate: func() string {
			return time.Now().UTC().Format("2006-01-02")
		},
	}
}

// Check returns ErrBudgetExceeded when the provider has no calls left today
func (b *Budget) Check(ctx context.Context, provider string) error {
	if b.maxCalls <= 0 {
		return nil
	}

	record, err := b.usage.GetUsage(ctx, provider, b.currentDate())
	if err != nil {
		return fmt.Errorf("failed to read usage: %w", err)
	}
	if record.Calls >= b.maxCalls {
		b.logger.Warn().
			Str("provider", provider).
			Int("calls", record.Calls).
			Int("max", b.maxCalls).
			Msg("Daily provider call budget exhausted")
		return fmt.Errorf("%w: %d >= %d calls for %s", ErrBudgetExceeded, record.Calls, b.maxCalls, provider)
	}
	return nil
}

// Record accounts a successful provider call. Best-effort: failures are
// logged but never surfaced to the caller.
func (b *Budget) Record(ctx context.Context, provider string, tokens int) {
	if _, err := b.usage.IncrementUsage(ctx, provider, b.currentDate(), tokens); err != nil {
		b.logger.Warn().Err(err).Str("provider", provider).Msg("Failed to record provider usage")
	}
}
