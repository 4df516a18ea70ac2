package pressure

import "context"

// NotifyOnSignal does nothing because Windows has no SIGUSR1
func NotifyOnSignal(ctx context.Context, n *Notifier) {}
