package eventloop

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Loop runs posted tasks one at a time on a dedicated goroutine.
type Loop struct {
	logger *slog.Logger

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go l.run()
	return l
}

// Post queues fn. Tasks posted after Close are dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Go runs work on its own goroutine and posts the continuation it returns.
func (l *Loop) Go(work func() func()) {
	go func() {
		if next := work(); next != nil {
			l.Post(next)
		}
	}()
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) func() {
	var canceled atomic.Bool
	timer := time.AfterFunc(d, func() {
		l.Post(func() {
			if !canceled.Load() {
				fn()
			}
		})
	})
	return func() {
		canceled.Store(true)
		timer.Stop()
	}
}

func (l *Loop) Every(d time.Duration, fn func()) func() {
	var stopped atomic.Bool
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Post(func() {
					if !stopped.Load() {
						fn()
					}
				})
			case <-done:
				return
			case <-l.stop:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			stopped.Store(true)
			close(done)
		})
	}
}

// Close stops the loop after the running task. It does not wait; use Done for that.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	close(l.stop)
}

func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.stop:
			return
		case <-l.wake:
		}
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.invoke(fn)
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event_loop_task_panic", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	fn()
}
