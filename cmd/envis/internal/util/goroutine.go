// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"context"
	"runtime/debug"
)

// =============================================================================
// Result Types
// =============================================================================

// SafeGoResult captures a panic recovered inside a safe goroutine.
//
// # Description
//
// Contains the panic value and the full stack trace at panic time.
// Passed to panic handlers so background failures can be logged with
// enough detail to debug them.
//
// # Thread Safety
//
// SafeGoResult is immutable after creation and safe for concurrent reads.
type SafeGoResult struct {
	// PanicValue is the value passed to panic().
	PanicValue interface{}

	// Stack is the full stack trace, formatted by runtime/debug.Stack().
	Stack string
}

// =============================================================================
// Goroutine Safety Functions
// =============================================================================

// SafeGo runs fn in a goroutine with panic recovery.
//
// # Description
//
// A panic in fn is caught and passed to onPanic instead of crashing the
// process. Background poll loops and watchers must not take the whole
// CLI down when one of them trips.
//
// # Inputs
//
//   - fn: The function to execute in the goroutine
//   - onPanic: Callback invoked if fn panics (may be nil to silently recover)
//
// # Example
//
//	SafeGo(func() {
//	    pollLoop()
//	}, func(r SafeGoResult) {
//	    log.Printf("poll loop panicked: %v\n%s", r.PanicValue, r.Stack)
//	})
//
// # Limitations
//
//   - onPanic is called synchronously in the recovered goroutine
//   - If onPanic itself panics, the application will crash
//
// # Assumptions
//
//   - fn is non-nil (will panic if nil)
func SafeGo(fn func(), onPanic func(SafeGoResult)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result := SafeGoResult{
					PanicValue: r,
					Stack:      string(debug.Stack()),
				}
				if onPanic != nil {
					onPanic(result)
				}
			}
		}()
		fn()
	}()
}

// SafeGoWithContext is like SafeGo but skips fn when ctx is already
// cancelled.
//
// # Description
//
// Checks the context once before executing fn. Long-running fn bodies
// still need to watch ctx.Done() themselves.
//
// # Inputs
//
//   - ctx: Context to check for cancellation
//   - fn: The function to execute if context is valid
//   - onPanic: Callback invoked if fn panics (may be nil)
//
// # Assumptions
//
//   - ctx and fn are non-nil (will panic if nil)
func SafeGoWithContext(ctx context.Context, fn func(), onPanic func(SafeGoResult)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result := SafeGoResult{
					PanicValue: r,
					Stack:      string(debug.Stack()),
				}
				if onPanic != nil {
					onPanic(result)
				}
			}
		}()

		select {
		case <-ctx.Done():
			return
		default:
			fn()
		}
	}()
}

// RecoverPanic returns a deferred function that recovers panics.
//
// # Description
//
// For synchronous code paths that need recovery without spawning a
// goroutine.
//
// # Example
//
//	defer RecoverPanic(func(r SafeGoResult) {
//	    log.Printf("recovered: %v", r.PanicValue)
//	})()
//
// # Limitations
//
//   - Must be called with () after defer: defer RecoverPanic(handler)()
//   - After recovery, the function returns normally (does not re-panic)
func RecoverPanic(onPanic func(SafeGoResult)) func() {
	return func() {
		if r := recover(); r != nil {
			result := SafeGoResult{
				PanicValue: r,
				Stack:      string(debug.Stack()),
			}
			if onPanic != nil {
				onPanic(result)
			}
		}
	}
}
