package optimistic

import (
	"context"
	"fmt"
)

// Command is a local state change applied before a remote call completes.
// Apply mutates local state and returns the compensation that undoes it.
type Command struct {
	Name    string
	Apply   func() (revert func())
	Execute func(ctx context.Context) error
}

// Run applies the command, executes the remote call and reverts the local
// change when the call fails. A panic in Execute also reverts before it is
// propagated.
func Run(ctx context.Context, cmd Command) (err error) {
	if cmd.Execute == nil {
		return fmt.Errorf("optimistic command %q has no execute step", cmd.Name)
	}
	revert := func() {}
	if cmd.Apply != nil {
		if r := cmd.Apply(); r != nil {
			revert = r
		}
	}

	completed := false
	defer func() {
		if !completed {
			revert()
		}
	}()

	if err := cmd.Execute(ctx); err != nil {
		revert()
		completed = true
		return fmt.Errorf("%s: %w", cmd.Name, err)
	}
	completed = true
	return nil
}
