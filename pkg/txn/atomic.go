package txn

import (
	"context"
	"fmt"
)

// Step is one named unit of an atomic operation.
// Rollback and Verify are optional. A step with Verify is re-executed when
// verification fails, so its Execute must be safe to repeat.
type Step struct {
	Name     string
	Execute  func(ctx context.Context) error
	Rollback func(ctx context.Context) error
	Verify   func(ctx context.Context) error
}

// AtomicOptions tunes a single ExecuteAtomic call.
// Zero values fall back to the manager's configuration.
type AtomicOptions struct {
	VerifyAttempts int
}

// ExecuteAtomic runs steps in order. When a step fails, the steps that already
// ran are rolled back in reverse order and an *AtomicityError describing the
// failure and the rollback outcome is returned. A step whose verification is
// exhausted counts as having run and is rolled back with the others.
func (m *Manager) ExecuteAtomic(ctx context.Context, steps []Step, opts AtomicOptions) error {
	attempts := opts.VerifyAttempts
	if attempts < 1 {
		attempts = m.verifyAttempts
	}

	completed := make([]Step, 0, len(steps))

	for _, step := range steps {
		ran, err := m.runStep(ctx, step, attempts)
		if ran {
			completed = append(completed, step)
		}
		if err != nil {
			return m.rollback(step.Name, err, completed)
		}
	}

	return nil
}

func (m *Manager) runStep(ctx context.Context, step Step, attempts int) (bool, error) {
	ran := false

	for attempt := 1; ; attempt++ {
		if err := step.Execute(ctx); err != nil {
			return ran, err
		}
		ran = true

		if step.Verify == nil {
			return true, nil
		}

		err := step.Verify(ctx)
		if err == nil {
			return true, nil
		}

		if attempt >= attempts {
			return true, fmt.Errorf("%w after %d attempts: %w", ErrVerifyFailed, attempt, err)
		}

		m.logger.Warn("step verification failed, retrying",
			"step", step.Name,
			"attempt", attempt,
			"error", err,
		)
	}
}

func (m *Manager) rollback(failed string, cause error, completed []Step) error {
	aerr := &AtomicityError{
		Step:       failed,
		Err:        cause,
		RolledBack: make([]string, 0, len(completed)),
	}

	// Rollback handlers run even if the caller's context has ended.
	ctx := context.Background()

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Rollback == nil {
			continue
		}

		if err := step.Rollback(ctx); err != nil {
			m.logger.Error("rollback failed",
				"step", step.Name,
				"failed_step", failed,
				"error", err,
			)
			aerr.RollbackFailures = append(aerr.RollbackFailures, RollbackFailure{
				Step: step.Name,
				Err:  err,
			})
			continue
		}

		aerr.RolledBack = append(aerr.RolledBack, step.Name)
	}

	m.logger.Warn("atomic operation rolled back",
		"failed_step", failed,
		"rolled_back", aerr.RolledBack,
		"rollback_failures", len(aerr.RollbackFailures),
	)

	return aerr
}
