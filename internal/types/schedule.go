package types

import (
	"context"
	"fmt"
	"time"
)

var ErrInterrupted = fmt.Errorf("scheduler interrupted, ignore like EPIPE")

// Func runs on scheduler dispatch goroutine, never concurrently with other Func.
type Func = func()

// Scheduler is the only concurrency primitive visible to session and stacks.
// CallAfter and Call are safe to use from any goroutine.
// There is no cancel, queued callback will run unless dispatch is stopped.
type Scheduler interface {
	CallAfter(delay time.Duration, fn Func)
	Call(fn Func)
	Stop()
}

// Runner owns dispatch loop.
type Runner interface {
	Scheduler
	RunForever(ctx context.Context) error
}
