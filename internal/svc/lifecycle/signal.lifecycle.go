package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/farmlink/presence/internal/structures"
)

// SignalStates maps process signals sent by the host shell to lifecycle states.
var SignalStates = map[os.Signal]structures.LifecycleState{
	syscall.SIGTSTP: structures.LifecycleStateBackground,
	syscall.SIGCONT: structures.LifecycleStateActive,
	syscall.SIGTERM: structures.LifecycleStateTerminating,
	syscall.SIGINT:  structures.LifecycleStateTerminating,
}

// NotifySignals emits a lifecycle transition for every mapped signal until ctx is done.
func NotifySignals(ctx context.Context, s *Source) <-chan struct{} {
	sig := make(chan os.Signal, 4)
	signals := make([]os.Signal, 0, len(SignalStates))

	for k := range SignalStates {
		signals = append(signals, k)
	}

	signal.Notify(sig, signals...)

	done := make(chan struct{})

	go func() {
		defer close(done)
		defer signal.Stop(sig)

		for {
			select {
			case <-ctx.Done():
				return
			case v := <-sig:
				if st, ok := SignalStates[v]; ok {
					s.Emit(st)
				}
			}
		}
	}()

	return done
}
