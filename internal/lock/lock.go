package lock

import (
	"context"
	"sync"
)

// Locker serializes work per key. Lock returns an unlock func that must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{sems: make(map[string]chan struct{})}
}

func (l *Local) sem(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sems[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.sems[key] = s
	}
	return s
}

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	s := l.sem(key)
	select {
	case s <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-s }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
