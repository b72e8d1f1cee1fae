package util

import (
	"runtime/debug"
	"sync"

	"github.com/invar/vault/internal/logging"
)

// SafeGoWithName runs fn in a goroutine with panic recovery. The name is
// included in the log record if fn panics.
func SafeGoWithName(name string, fn func()) {
	go func() {
		defer recoverPanic(name)
		fn()
	}()
}

// Group runs named functions concurrently with panic recovery and waits for
// all of them. A panicking function is logged and counted as finished.
type Group struct {
	wg sync.WaitGroup
}

// Go starts fn in the group.
func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer recoverPanic(name)
		fn()
	}()
}

// Wait blocks until every function started with Go has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

func recoverPanic(name string) {
	if r := recover(); r != nil {
		logging.Error("goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}
