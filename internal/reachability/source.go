package reachability

// EventFunc receives raw interface events from a ConnectivitySource.
type EventFunc func(InterfaceEvent)

// WatchHandle identifies one active watch on a ConnectivitySource. Its
// concrete type is private to the source that returned it.
type WatchHandle any

// ConnectivitySource is a thin adapter over a platform network-status API.
//
// The monitor holds at most one watch at a time and starts and stops it as
// observers come and go, so implementations must tolerate repeated
// StartWatching/StopWatching cycles over their lifetime.
type ConnectivitySource interface {
	// Name returns a short identifier for logs and status output.
	Name() string

	// StartWatching begins delivering events to fn asynchronously until the
	// returned handle is stopped. fn must not be called from within
	// StartWatching itself. A non-nil error means no watch was started.
	StartWatching(fn EventFunc) (WatchHandle, error)

	// StopWatching ends the watch identified by h. Callbacks already in
	// flight when it returns are ignored by the monitor.
	StopWatching(h WatchHandle) error
}
