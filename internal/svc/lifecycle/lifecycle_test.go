package lifecycle

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/farmlink/presence/internal/structures"
	"github.com/farmlink/presence/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSourceEmit(t *testing.T) {
	src := New()
	assert.Equal(t, structures.LifecycleStateActive, src.Current())

	var got []structures.LifecycleState
	unsub := src.Subscribe(func(st structures.LifecycleState) { got = append(got, st) })

	src.Emit(structures.LifecycleStateBackground)
	src.Emit(structures.LifecycleStateActive)
	assert.NoError(t, unsub())
	src.Emit(structures.LifecycleStateInactive)

	assert.Equal(t, []structures.LifecycleState{
		structures.LifecycleStateBackground,
		structures.LifecycleStateActive,
	}, got)
	assert.Equal(t, structures.LifecycleStateInactive, src.Current())
}

func TestNotifySignals(t *testing.T) {
	src := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := NotifySignals(ctx, src)

	assert.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTSTP))
	testutil.Eventually(t, time.Second, func() bool {
		return src.Current() == structures.LifecycleStateBackground
	}, "background after SIGTSTP")

	assert.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGCONT))
	testutil.Eventually(t, time.Second, func() bool {
		return src.Current() == structures.LifecycleStateActive
	}, "active after SIGCONT")

	cancel()
	<-done
}
