package lorawan

// Public API to easy create Stack stubs to test your code.
import (
	"sync"

	"github.com/juju/errors"
	"github.com/temoto/loranode/internal/types"
)

type SendResult struct {
	N   int
	Err error
}

type SendCall struct {
	Port  uint8
	Data  []byte
	Flags Flag
}

type ReceiveCall struct {
	Port  uint8
	Cap   int
	Flags Flag
	// buffer had non-zero bytes when Receive was called
	Dirty bool
}

// Mock Stack records every call. Programmable results are consumed in order,
// when queue is empty Send succeeds with len(data) and Receive returns RecvData.
type Mock struct {
	mu      sync.Mutex
	sched   types.Scheduler
	handler EventHandler

	InitErr    error
	RetriesErr error
	ADRErr     error
	ConnectErr error

	SendResults []SendResult
	RecvData    []byte
	RecvErr     error

	Retries   uint8
	ADR       bool
	Connects  []Credentials
	Sends     []SendCall
	Receives  []ReceiveCall
	Closed    bool
	InitCalls int
}

var _ Stack = &Mock{} // compile-time interface test

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Initialize(s types.Scheduler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitCalls++
	if m.InitErr != nil {
		return m.InitErr
	}
	m.sched = s
	return nil
}

func (m *Mock) AddEventCallback(h EventHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

func (m *Mock) SetConfirmedRetries(n uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RetriesErr != nil {
		return m.RetriesErr
	}
	m.Retries = n
	return nil
}

func (m *Mock) EnableADR() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ADRErr != nil {
		return m.ADRErr
	}
	m.ADR = true
	return nil
}

func (m *Mock) Connect(c Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connects = append(m.Connects, c)
	return m.ConnectErr
}

func (m *Mock) Send(port uint8, data []byte, flags Flag) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sends = append(m.Sends, SendCall{Port: port, Data: append([]byte(nil), data...), Flags: flags})
	if len(m.SendResults) == 0 {
		return len(data), nil
	}
	r := m.SendResults[0]
	m.SendResults = m.SendResults[1:]
	return r.N, r.Err
}

func (m *Mock) Receive(port uint8, buf []byte, flags Flag) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dirty := false
	for _, b := range buf {
		if b != 0 {
			dirty = true
			break
		}
	}
	m.Receives = append(m.Receives, ReceiveCall{Port: port, Cap: len(buf), Flags: flags, Dirty: dirty})
	if m.RecvErr != nil {
		return 0, m.RecvErr
	}
	n := copy(buf, m.RecvData)
	return n, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	return nil
}

// Emit posts event to registered handler through scheduler, like real stacks do.
func (m *Mock) Emit(ev Event) error {
	m.mu.Lock()
	s, h := m.sched, m.handler
	m.mu.Unlock()
	if s == nil || h == nil {
		return errors.Errorf("lorawan.Mock.Emit event=%s before Initialize/AddEventCallback", ev)
	}
	s.Call(func() { h(ev) })
	return nil
}

func (m *Mock) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sends)
}

func (m *Mock) ReceiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Receives)
}

func (m *Mock) LastSend() SendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sends) == 0 {
		return SendCall{}
	}
	return m.Sends[len(m.Sends)-1]
}
