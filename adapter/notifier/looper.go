package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vinicius-lino-figueiredo/liveview/domain"
)

// Looper is an event loop running queued tasks one at a time on its own
// goroutine. Everything confined to a looper, like a session and its views,
// must only be touched from its tasks.
type Looper struct {
	mu       sync.Mutex
	queue    []func()
	maxQueue int
	closed   bool

	wake chan struct{}
	done chan struct{}

	panicHandler func(any)
	logger       *slog.Logger
}

// NewLooper starts a new event loop.
func NewLooper(options ...LooperOption) *Looper {
	l := &Looper{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: slog.New(slog.DiscardHandler),
		panicHandler: func(v any) {
			panic(v)
		},
	}
	for _, option := range options {
		option(l)
	}
	go l.loop()
	return l
}

// Post appends fn to the queue.
func (l *Looper) Post(fn func()) error {
	return l.enqueue(fn, false)
}

// PostFront queues fn ahead of every task not yet started.
func (l *Looper) PostFront(fn func()) error {
	return l.enqueue(fn, true)
}

func (l *Looper) enqueue(fn func(), front bool) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLooperClosed
	}
	if l.maxQueue > 0 && len(l.queue) >= l.maxQueue {
		l.mu.Unlock()
		return fmt.Errorf("%w: looper queue full", domain.ErrDeliveryUnsupported)
	}
	if front {
		l.queue = append([]func(){fn}, l.queue...)
	} else {
		l.queue = append(l.queue, fn)
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Do runs fn on the loop and waits for it to return. It must not be called
// from a task of the same looper.
func (l *Looper) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	err := l.Post(func() {
		defer close(finished)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-finished:
		return nil
	case <-l.done:
		// quit before or while running fn
		select {
		case <-finished:
			return nil
		default:
			return domain.ErrLooperClosed
		}
	}
}

// Quit stops the loop once the running task returns. Tasks still queued are
// dropped. Calling Quit more than once is a no-op.
func (l *Looper) Quit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	dropped := len(l.queue)
	l.queue = nil
	l.logger.Debug("looper quit", slog.Int("dropped", dropped))
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the loop goroutine exits.
func (l *Looper) Done() <-chan struct{} {
	return l.done
}

// Alive reports whether the looper still accepts tasks.
func (l *Looper) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

func (l *Looper) loop() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.mu.Unlock()
			<-l.wake
			l.mu.Lock()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(task)
	}
}

func (l *Looper) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("looper task panicked", slog.Any("panic", r))
			l.panicHandler(r)
		}
	}()
	task()
}
