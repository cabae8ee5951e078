package tele

import (
	"context"
	"sync"
)

type Message struct {
	RoutingKey string
	Body       []byte
}

// Mock is in-memory Publisher for tests.
type Mock struct {
	mu         sync.Mutex
	err        error
	lost       bool
	closed     bool
	closeCalls int
	published  []Message
}

var _ Publisher = &Mock{}

func NewMock() *Mock { return &Mock{} }

// SetError makes following Publish calls fail with err, nil restores success.
func (self *Mock) SetError(err error) {
	self.mu.Lock()
	self.err = err
	self.mu.Unlock()
}

// Lose simulates broken connection: IsOpen reports false without Close.
func (self *Mock) Lose() {
	self.mu.Lock()
	self.lost = true
	self.mu.Unlock()
}

func (self *Mock) Publish(ctx context.Context, routingKey string, body []byte) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return ErrClosed
	}
	if self.err != nil {
		return self.err
	}
	b := append([]byte(nil), body...)
	self.published = append(self.published, Message{RoutingKey: routingKey, Body: b})
	return nil
}

func (self *Mock) IsOpen() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return !self.closed && !self.lost
}

func (self *Mock) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.closeCalls++
	self.closed = true
	return nil
}

func (self *Mock) Published() []Message {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]Message(nil), self.published...)
}

func (self *Mock) CloseCalls() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.closeCalls
}
