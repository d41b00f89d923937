// Package events carries domain events between components. NATS is used when
// configured; a single-process deployment uses the in-memory LocalBus.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

var ErrClosed = errors.New("event bus closed")

// LocalBus delivers events to subscribers of the exact same subject within the process.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func(string, []byte)
	nextID int
	closed bool
	logger *slog.Logger
}

var _ domain.EventBus = (*LocalBus)(nil)

func NewLocalBus(logger *slog.Logger) *LocalBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBus{subs: map[string]map[int]func(string, []byte){}, logger: logger}
}

// Publish hands a copy of payload to every current subscriber synchronously.
func (b *LocalBus) Publish(_ context.Context, subject string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]func(string, []byte), 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		data := append([]byte(nil), payload...)
		h(subject, data)
	}
	return nil
}

func (b *LocalBus) Subscribe(subject string, handler func(string, []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	id := b.nextID
	b.nextID++
	if b.subs[subject] == nil {
		b.subs[subject] = map[int]func(string, []byte){}
	}
	b.subs[subject][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[subject], id)
			if len(b.subs[subject]) == 0 {
				delete(b.subs, subject)
			}
		})
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[string]map[int]func(string, []byte){}
	return nil
}
