// Package messages is a typed request/response bus between the parts of the
// client. Every message kind has one handler, served by its own goroutine.
package messages

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Kind names a message type.
type Kind string

// Message kinds exchanged by the client.
const (
	KindCheckAuth      Kind = "checkAuth"
	KindGetPageContent Kind = "getPageContent"
	KindAnalyzeContent Kind = "analyzeContent"
)

var (
	// ErrNoHandler is returned by Send for a kind nobody registered.
	ErrNoHandler = errors.New("no handler registered for message")

	// ErrClosed is returned once the bus has been closed.
	ErrClosed = errors.New("message bus closed")
)

type reply struct {
	resp any
	err  error
}

type envelope struct {
	ctx   context.Context
	req   any
	reply chan reply
}

// Bus routes requests to their handler.
type Bus struct {
	mu      sync.RWMutex
	inboxes map[Kind]chan envelope

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		inboxes: make(map[Kind]chan envelope),
		done:    make(chan struct{}),
	}
}

// Register installs h as the handler of kind. Requests are handled one at a time
// in arrival order.
func Register[Req, Resp any](b *Bus, kind Kind, h func(context.Context, Req) (Resp, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	if _, ok := b.inboxes[kind]; ok {
		return fmt.Errorf("handler for %s already registered", kind)
	}

	inbox := make(chan envelope)
	b.inboxes[kind] = inbox

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.done:
				return
			case env := <-inbox:
				env.reply <- serve(env, kind, h)
			}
		}
	}()
	return nil
}

func serve[Req, Resp any](env envelope, kind Kind, h func(context.Context, Req) (Resp, error)) (r reply) {
	req, ok := env.req.(Req)
	if !ok {
		return reply{err: fmt.Errorf("%s expects %T, got %T", kind, req, env.req)}
	}
	defer func() {
		if v := recover(); v != nil {
			r = reply{err: fmt.Errorf("%s handler panicked: %v", kind, v)}
		}
	}()
	resp, err := h(env.ctx, req)
	return reply{resp: resp, err: err}
}

// Send delivers req to the handler of kind and waits for its answer.
func Send[Req, Resp any](ctx context.Context, b *Bus, kind Kind, req Req) (Resp, error) {
	var zero Resp

	b.mu.RLock()
	inbox, ok := b.inboxes[kind]
	b.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}

	env := envelope{ctx: ctx, req: req, reply: make(chan reply, 1)}
	select {
	case inbox <- env:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-b.done:
		return zero, ErrClosed
	}

	select {
	case r := <-env.reply:
		if r.err != nil {
			return zero, r.err
		}
		resp, ok := r.resp.(Resp)
		if !ok {
			return zero, fmt.Errorf("%s answered %T, caller expects %T", kind, r.resp, zero)
		}
		return resp, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops every handler goroutine and waits for them.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		close(b.done)
		b.mu.Unlock()
	})
	b.wg.Wait()
}
