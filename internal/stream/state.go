package stream

import "sync/atomic"

// ConnectionState is the lifecycle state of a streaming client. Transitions
// are strictly forward within one Run: Disconnected → Connecting →
// Authenticated → Streaming → Closing → Disconnected, with Failed as the
// terminal state of any unsuccessful run.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateAuthenticated
	StateStreaming
	StateClosing
	StateFailed
)

// String returns the lowercase name of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// stateVar is an atomically readable ConnectionState holder.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) set(st ConnectionState) { s.v.Store(int32(st)) }
func (s *stateVar) get() ConnectionState   { return ConnectionState(s.v.Load()) }
