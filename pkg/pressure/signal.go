//go:build !windows
// +build !windows

package pressure

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// NotifyOnSignal notifies n whenever the process receives SIGUSR1, until ctx is done
func NotifyOnSignal(ctx context.Context, n *Notifier) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(c)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c:
				n.Notify()
			}
		}
	}()
}
