// Package sim is in-process LoRaWAN network simulation.
// It models join latency, regional duty cycle and airtime, downlink delivery
// and network originated uplink requests. Useful for development without radio.
package sim

import (
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/loranode/internal/lorawan"
	"github.com/temoto/loranode/internal/types"
	"github.com/temoto/loranode/log2"
)

const (
	DefaultJoinDelay = 2 * time.Second
	DefaultRxQueue   = 8
	// classic stack accepts up to 255 confirmed retries, stays sane below
	maxConfirmedRetries = 255
)

type Config struct {
	JoinDelay        time.Duration
	FailJoin         bool
	Radio            lorawan.RadioParams
	DutyCyclePercent float64
	RxQueue          int
}

type Stack struct {
	mu      sync.Mutex
	log     *log2.Log
	config  Config
	sched   types.Scheduler
	handler lorawan.EventHandler
	duty    *lorawan.DutyCycle
	now     func() time.Time

	initialized bool
	joining     bool
	joined      bool
	adr         bool
	retries     uint8
	fcntUp      uint32
	failNextTx  lorawan.Event
	rx          []lorawan.Downlink
	uplinks     [][]byte
}

var _ lorawan.Stack = &Stack{} // compile-time interface test

func New(log *log2.Log, config Config) *Stack {
	if config.JoinDelay <= 0 {
		config.JoinDelay = DefaultJoinDelay
	}
	if config.RxQueue <= 0 {
		config.RxQueue = DefaultRxQueue
	}
	if config.Radio.SpreadingFactor == 0 {
		config.Radio = lorawan.DefaultRadioParams()
	}
	return &Stack{
		log:    log,
		config: config,
		duty:   lorawan.NewDutyCycle(config.DutyCyclePercent),
		now:    time.Now,
	}
}

func (self *Stack) Initialize(s types.Scheduler) error {
	if s == nil {
		return errors.Annotate(lorawan.StatusParameterInvalid, "sim Initialize scheduler=nil")
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	self.sched = s
	self.initialized = true
	self.log.Debugf("sim: initialized radio=%+v duty=%.2f%%", self.config.Radio, self.config.DutyCyclePercent)
	return nil
}

func (self *Stack) AddEventCallback(h lorawan.EventHandler) {
	self.mu.Lock()
	self.handler = h
	self.mu.Unlock()
}

func (self *Stack) SetConfirmedRetries(n uint8) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.initialized {
		return lorawan.StatusNotInitialized
	}
	if int(n) >= maxConfirmedRetries {
		return lorawan.StatusParameterInvalid
	}
	self.retries = n
	return nil
}

func (self *Stack) EnableADR() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.initialized {
		return lorawan.StatusNotInitialized
	}
	self.adr = true
	return nil
}

func (self *Stack) Connect(c lorawan.Credentials) error {
	if err := c.Validate(); err != nil {
		self.log.Errorf("sim: connect credentials err=%v", err)
		return lorawan.StatusParameterInvalid
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	switch {
	case !self.initialized:
		return lorawan.StatusNotInitialized
	case self.joined:
		return lorawan.StatusAlreadyConnected
	case self.joining:
		return lorawan.StatusConnectInProgress
	}
	self.joining = true
	self.log.Debugf("sim: join request dev_eui=%s app_eui=%s attempts=%d", c.DevEUI, c.AppEUI, c.JoinAttempts)

	if self.config.FailJoin {
		delay := time.Duration(c.JoinAttempts) * self.config.JoinDelay
		self.sched.CallAfter(delay, func() {
			self.mu.Lock()
			self.joining = false
			self.mu.Unlock()
			self.emit(lorawan.EventJoinFailure)
		})
	} else {
		self.sched.CallAfter(self.config.JoinDelay, func() {
			self.mu.Lock()
			self.joining, self.joined = false, true
			self.fcntUp = 0
			self.mu.Unlock()
			self.emit(lorawan.EventConnected)
		})
	}
	return lorawan.StatusConnectInProgress
}

func (self *Stack) Send(port uint8, data []byte, flags lorawan.Flag) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	switch {
	case !self.initialized:
		return 0, lorawan.StatusNotInitialized
	case !self.joined:
		return 0, lorawan.StatusNoNetworkJoined
	case !lorawan.ValidPort(port):
		return 0, lorawan.StatusPortInvalid
	case len(data) > lorawan.MaxPayload:
		return 0, lorawan.StatusLengthError
	}
	airtime := self.config.Radio.TimeOnAir(len(data))
	if err := self.duty.Reserve(self.now(), airtime); err != nil {
		self.log.Debugf("sim: duty cycle wait=%s", self.duty.Wait(self.now()))
		return 0, err
	}
	self.fcntUp++
	self.uplinks = append(self.uplinks, append([]byte(nil), data...))
	self.log.Debugf("sim: uplink fcnt=%d port=%d confirmed=%t airtime=%s data=%x",
		self.fcntUp, port, flags.Has(lorawan.FlagConfirmed), airtime, data)

	result := lorawan.EventTxDone
	if self.failNextTx != lorawan.EventInvalid {
		result, self.failNextTx = self.failNextTx, lorawan.EventInvalid
	}
	self.sched.CallAfter(airtime, func() { self.emit(result) })
	return len(data), nil
}

func (self *Stack) Receive(port uint8, buf []byte, flags lorawan.Flag) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	switch {
	case !self.initialized:
		return 0, lorawan.StatusNotInitialized
	case !self.joined:
		return 0, lorawan.StatusNoNetworkJoined
	case len(self.rx) == 0:
		return 0, lorawan.StatusWouldBlock
	}
	d := self.rx[0]
	self.rx = self.rx[1:]
	n := copy(buf, d.Data)
	if n < len(d.Data) {
		self.log.Errorf("sim: downlink truncated len=%d buffer=%d", len(d.Data), len(buf))
	}
	return n, nil
}

// Close is graceful disconnect, session handler gets EventDisconnected.
func (self *Stack) Close() error {
	self.mu.Lock()
	was := self.joined || self.joining
	self.joined, self.joining = false, false
	self.mu.Unlock()
	if was {
		self.emit(lorawan.EventDisconnected)
	}
	return nil
}

// Network side controls below.

// InjectDownlink queues downlink and raises RxDone.
// pending=true models frame pending bit, network additionally asks for uplink.
func (self *Stack) InjectDownlink(port uint8, data []byte, pending bool) error {
	self.mu.Lock()
	if !self.joined {
		self.mu.Unlock()
		return errors.Annotate(lorawan.StatusNoNetworkJoined, "sim InjectDownlink")
	}
	if len(self.rx) >= self.config.RxQueue {
		self.mu.Unlock()
		return errors.Annotatef(lorawan.StatusBusy, "sim InjectDownlink rx queue full len=%d", len(self.rx))
	}
	self.rx = append(self.rx, lorawan.Downlink{Port: port, Data: append([]byte(nil), data...)})
	self.mu.Unlock()

	self.emit(lorawan.EventRxDone)
	if pending {
		self.emit(lorawan.EventUplinkRequired)
	}
	return nil
}

func (self *Stack) RequestUplink() { self.emit(lorawan.EventUplinkRequired) }

// FailNextTx makes next accepted uplink end with given async failure event.
func (self *Stack) FailNextTx(ev lorawan.Event) {
	if !ev.IsTxFailure() {
		panic("code error sim.FailNextTx event=" + ev.String())
	}
	self.mu.Lock()
	self.failNextTx = ev
	self.mu.Unlock()
}

// RxError simulates corrupted downlink window.
func (self *Stack) RxError() { self.emit(lorawan.EventRxError) }

func (self *Stack) Uplinks() [][]byte {
	self.mu.Lock()
	defer self.mu.Unlock()
	out := make([][]byte, len(self.uplinks))
	copy(out, self.uplinks)
	return out
}

func (self *Stack) Joined() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.joined
}

func (self *Stack) ADR() (bool, uint8) {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.adr, self.retries
}

func (self *Stack) emit(ev lorawan.Event) {
	self.mu.Lock()
	s, h := self.sched, self.handler
	self.mu.Unlock()
	if s == nil || h == nil {
		self.log.Debugf("sim: drop event=%s no handler", ev)
		return
	}
	s.Call(func() { h(ev) })
}
