package definition

import "sync"

// Invoker spawns and tracks goroutines, grounded verbatim on the teacher's
// core.Invoker/core.InvokerInstance: production code spawns through it so
// tests can substitute a WaitGroup-backed invoker that blocks shutdown until
// every spawned function has returned.
type Invoker interface {
	Spawn(f func())
	Stop()
}

// defaultInvoker spawns bare goroutines and waits on a WaitGroup at Stop.
type defaultInvoker struct {
	group sync.WaitGroup
}

var shared = &defaultInvoker{}

// InvokerInstance returns the process-wide default Invoker.
func InvokerInstance() Invoker {
	return shared
}

func (i *defaultInvoker) Spawn(f func()) {
	i.group.Add(1)
	go func() {
		defer i.group.Done()
		f()
	}()
}

func (i *defaultInvoker) Stop() {
	i.group.Wait()
}
