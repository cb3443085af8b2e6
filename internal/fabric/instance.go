// Package fabric implements the spectator broadcast fan-out hub.
package fabric

import "sync"

var (
	globalHub *Hub
	hubOnce   sync.Once
)

// GetHub returns the singleton Hub instance for this engine process.
func GetHub() *Hub {
	hubOnce.Do(func() {
		globalHub = NewHub("engine-primary", "default", "production")
	})
	return globalHub
}

// ResetHub resets the global hub (for testing only)
func ResetHub() {
	hubOnce = sync.Once{}
	globalHub = nil
}
