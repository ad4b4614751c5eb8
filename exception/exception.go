package exception

import (
	"runtime/debug"

	"gateguard/logx"
	"gateguard/monitoring"
)

// SafeGo runs fn on its own goroutine and contains any panic; a crashed
// background loop must never take the gateway process down with it.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				monitoring.IncreasePanicCount()
				logx.Error("PANIC", name, r, string(debug.Stack()))
			}
		}()
		fn()
	}()
}

// SafeCall invokes fn inline with the same panic containment, for use on
// the request path where spawning a goroutine is not wanted.
func SafeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.IncreasePanicCount()
			logx.Error("PANIC", name, r, string(debug.Stack()))
		}
	}()
	fn()
}
