// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package util

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestSafeGo_NoPanic verifies SafeGo executes function without panic.
func TestSafeGo_NoPanic(t *testing.T) {
	var wg sync.WaitGroup
	executed := false
	panicCalled := false

	wg.Add(1)
	SafeGo(func() {
		defer wg.Done()
		executed = true
	}, func(r SafeGoResult) {
		panicCalled = true
		wg.Done()
	})

	wg.Wait()

	if !executed {
		t.Error("function was not executed")
	}
	if panicCalled {
		t.Error("panic callback should not be called when no panic occurs")
	}
}

// TestSafeGo_WithPanic verifies the panic value and stack reach the
// callback instead of crashing the process.
func TestSafeGo_WithPanic(t *testing.T) {
	var wg sync.WaitGroup
	var result SafeGoResult
	panicCalled := false

	wg.Add(1)
	SafeGo(func() {
		panic("poll loop tripped")
	}, func(r SafeGoResult) {
		defer wg.Done()
		panicCalled = true
		result = r
	})

	wg.Wait()

	if !panicCalled {
		t.Fatal("panic callback was not called")
	}
	if result.PanicValue != "poll loop tripped" {
		t.Errorf("PanicValue = %v, want 'poll loop tripped'", result.PanicValue)
	}
	if !strings.Contains(result.Stack, "goroutine") || !strings.Contains(result.Stack, ".go:") {
		t.Error("Stack missing goroutine or file information")
	}
}

// TestSafeGo_WithPanicNilCallback verifies a nil callback still recovers.
func TestSafeGo_WithPanicNilCallback(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)

	SafeGo(func() {
		defer wg.Done()
		panic("unobserved panic")
	}, nil)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("timeout waiting for goroutine - may have crashed")
	}
}

// TestSafeGoWithContext_AlreadyCancelled verifies fn is skipped when the
// context is already dead.
func TestSafeGoWithContext_AlreadyCancelled(t *testing.T) {
	executed := false

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	SafeGoWithContext(ctx, func() {
		executed = true
	}, nil)

	time.Sleep(50 * time.Millisecond)

	if executed {
		t.Error("function should NOT execute when context is already cancelled")
	}
}

// TestSafeGoWithContext_NotCancelled verifies normal execution.
func TestSafeGoWithContext_NotCancelled(t *testing.T) {
	var wg sync.WaitGroup
	executed := false

	wg.Add(1)
	SafeGoWithContext(context.Background(), func() {
		defer wg.Done()
		executed = true
	}, nil)

	wg.Wait()

	if !executed {
		t.Error("function should execute when context is not cancelled")
	}
}

// TestRecoverPanic_WithPanic verifies the deferred form recovers and
// reports.
func TestRecoverPanic_WithPanic(t *testing.T) {
	var result SafeGoResult
	panicCalled := false

	func() {
		defer RecoverPanic(func(r SafeGoResult) {
			panicCalled = true
			result = r
		})()

		panic("deferred panic")
	}()

	if !panicCalled {
		t.Fatal("panic callback was not called")
	}
	if result.PanicValue != "deferred panic" {
		t.Errorf("PanicValue = %v, want 'deferred panic'", result.PanicValue)
	}
}

// TestRecoverPanic_NoPanic verifies no callback on clean return.
func TestRecoverPanic_NoPanic(t *testing.T) {
	panicCalled := false

	func() {
		defer RecoverPanic(func(r SafeGoResult) {
			panicCalled = true
		})()
	}()

	if panicCalled {
		t.Error("panic callback should not be called when no panic occurs")
	}
}

// TestSafeGo_MixedPanicAndNormal verifies mixed outcomes under load.
func TestSafeGo_MixedPanicAndNormal(t *testing.T) {
	const numGoroutines = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	normalCount := 0
	panicCount := 0

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		i := i
		SafeGo(func() {
			if i%2 == 0 {
				mu.Lock()
				normalCount++
				mu.Unlock()
				wg.Done()
			} else {
				panic("intentional panic")
			}
		}, func(r SafeGoResult) {
			mu.Lock()
			panicCount++
			mu.Unlock()
			wg.Done()
		})
	}

	wg.Wait()

	if normalCount != numGoroutines/2 {
		t.Errorf("normalCount = %d, want %d", normalCount, numGoroutines/2)
	}
	if panicCount != numGoroutines/2 {
		t.Errorf("panicCount = %d, want %d", panicCount, numGoroutines/2)
	}
}
