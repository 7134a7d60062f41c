package bridge

import (
	"sync"

	"github.com/juju/errors"
)

var ErrPublishTimeout = errors.New("bridge: publish timeout")

// Broker is the message bus between node and gateway side.
// Handlers may be called from any goroutine.
type Broker interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(payload []byte)) error
	Close() error
}

// MemBroker is in-process Broker for tests and loopback gateway.
// Each PublishErr item fails one Publish call, in order.
type MemBroker struct {
	mu         sync.Mutex
	subs       map[string]func([]byte)
	published  []Message
	PublishErr []error
	OnPublish  func(topic string, payload []byte)
	closed     bool
}

type Message struct {
	Topic   string
	Payload []byte
}

var _ Broker = &MemBroker{}

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string]func([]byte))}
}

func (self *MemBroker) Publish(topic string, payload []byte) error {
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		return errors.New("bridge: broker closed")
	}
	if len(self.PublishErr) != 0 {
		err := self.PublishErr[0]
		self.PublishErr = self.PublishErr[1:]
		self.mu.Unlock()
		return err
	}
	self.published = append(self.published, Message{Topic: topic, Payload: append([]byte(nil), payload...)})
	h, hook := self.subs[topic], self.OnPublish
	self.mu.Unlock()

	if hook != nil {
		hook(topic, payload)
	}
	if h != nil {
		h(payload)
	}
	return nil
}

func (self *MemBroker) Subscribe(topic string, handler func([]byte)) error {
	self.mu.Lock()
	self.subs[topic] = handler
	self.mu.Unlock()
	return nil
}

func (self *MemBroker) Close() error {
	self.mu.Lock()
	self.closed = true
	self.mu.Unlock()
	return nil
}

// Deliver simulates message from gateway side.
func (self *MemBroker) Deliver(topic string, payload []byte) bool {
	self.mu.Lock()
	h := self.subs[topic]
	self.mu.Unlock()
	if h == nil {
		return false
	}
	h(payload)
	return true
}

func (self *MemBroker) Published() []Message {
	self.mu.Lock()
	defer self.mu.Unlock()
	out := make([]Message, len(self.published))
	copy(out, self.published)
	return out
}

// SetOnPublish replaces hook, safe while workers publish.
func (self *MemBroker) SetOnPublish(f func(topic string, payload []byte)) {
	self.mu.Lock()
	self.OnPublish = f
	self.mu.Unlock()
}

func (self *MemBroker) SetPublishErr(errs ...error) {
	self.mu.Lock()
	self.PublishErr = append(self.PublishErr, errs...)
	self.mu.Unlock()
}
