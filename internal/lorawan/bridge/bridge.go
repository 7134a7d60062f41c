// Package bridge is LoRaWAN Stack carried over MQTT instead of radio.
// Gateway side of the bridge answers join requests and forwards downlinks.
//
// Bridge contract:
//   - Send blocks at most for queue disk write, publish happens in background
//   - every accepted uplink ends with exactly one of TxDone, TxTimeout, TxError events
//   - Close() returns without waiting for a publish in flight,
//     Disconnected is posted after background workers exit
package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/loranode/helpers"
	"github.com/temoto/loranode/internal/lorawan"
	"github.com/temoto/loranode/internal/types"
	"github.com/temoto/loranode/log2"
	"github.com/temoto/spq"
)

const (
	DefaultTopicPrefix    = "loranode"
	DefaultPublishRetries = 3
	DefaultRxQueue        = 8
)

type Config struct {
	TopicPrefix      string
	QueuePath        string
	NetworkTimeout   time.Duration
	PublishRetries   int
	Radio            lorawan.RadioParams
	DutyCyclePercent float64
	RxQueue          int
}

type Stat struct {
	Published     uint32
	PublishErrors uint32
	JoinRequests  uint32
	Downlinks     uint32
	Dropped       uint32
}

type Stack struct { //nolint:maligned
	mu      sync.Mutex
	alive   *alive.Alive
	log     *log2.Log
	config  Config
	broker  Broker
	q       *spq.Queue
	sched   types.Scheduler
	handler lorawan.EventHandler
	duty    *lorawan.DutyCycle
	backoff helpers.Backoff
	now     func() time.Time

	done        chan struct{}
	initialized bool
	closing     bool
	joining     bool
	joined      bool
	adr         bool
	retries     uint8
	creds       lorawan.Credentials
	joinFuture  *helpers.Future
	devNonce    uint32
	fcntUp      uint32
	rx          []lorawan.Downlink
	stat        Stat
}

var _ lorawan.Stack = &Stack{} // compile-time interface test

func New(log *log2.Log, config Config, broker Broker) *Stack {
	if config.TopicPrefix == "" {
		config.TopicPrefix = DefaultTopicPrefix
	}
	if config.NetworkTimeout <= 0 {
		config.NetworkTimeout = DefaultNetworkTimeout
	}
	if config.PublishRetries <= 0 {
		config.PublishRetries = DefaultPublishRetries
	}
	if config.RxQueue <= 0 {
		config.RxQueue = DefaultRxQueue
	}
	if config.Radio.SpreadingFactor == 0 {
		config.Radio = lorawan.DefaultRadioParams()
	}
	return &Stack{
		alive:  alive.NewAlive(),
		done:   make(chan struct{}),
		log:    log,
		config: config,
		broker: broker,
		duty:   lorawan.NewDutyCycle(config.DutyCyclePercent),
		backoff: helpers.Backoff{
			Min: config.NetworkTimeout / 30,
			Max: config.NetworkTimeout,
			K:   2,
		},
		now: time.Now,
	}
}

func Topic(prefix string, devEUI lorawan.EUI64, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, devEUI, suffix)
}

func (self *Stack) Initialize(s types.Scheduler) error {
	if s == nil {
		return errors.Annotate(lorawan.StatusParameterInvalid, "bridge Initialize scheduler=nil")
	}
	if self.config.QueuePath == "" {
		panic("code error must set bridge Config.QueuePath")
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.initialized {
		return nil
	}
	q, err := spq.Open(self.config.QueuePath)
	if err != nil {
		return errors.Annotatef(err, "bridge queue path=%s", self.config.QueuePath)
	}
	if !self.alive.Add(1) {
		q.Close()
		return errors.Annotate(lorawan.StatusDeviceOff, "bridge closed")
	}
	self.q = q
	self.sched = s
	self.initialized = true
	go self.qworker()
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
		self.log.Errorf("bridge: connect credentials err=%v", err)
		return lorawan.StatusParameterInvalid
	}
	self.mu.Lock()
	switch {
	case !self.initialized:
		self.mu.Unlock()
		return lorawan.StatusNotInitialized
	case self.joined:
		self.mu.Unlock()
		return lorawan.StatusAlreadyConnected
	case self.joining:
		self.mu.Unlock()
		return lorawan.StatusConnectInProgress
	}
	if !self.alive.Add(1) {
		self.mu.Unlock()
		return lorawan.StatusDeviceOff
	}
	self.joining = true
	self.creds = c
	future := helpers.NewFuture()
	self.joinFuture = future
	self.mu.Unlock()

	topicDown := Topic(self.config.TopicPrefix, c.DevEUI, "down")
	if err := self.broker.Subscribe(topicDown, self.onDown); err != nil {
		self.mu.Lock()
		self.joining = false
		self.mu.Unlock()
		self.alive.Done()
		return errors.Annotate(err, "bridge Connect")
	}
	go self.joinLoop(c, future)
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
	if err := self.duty.Reserve(self.now(), self.config.Radio.TimeOnAir(len(data))); err != nil {
		return 0, err
	}
	self.fcntUp++
	f := &Frame{
		Kind:      FrameUplink,
		DevEui:    self.creds.DevEUI[:],
		FPort:     uint32(port),
		FCnt:      self.fcntUp,
		Confirmed: flags.Has(lorawan.FlagConfirmed),
		Payload:   data,
		Time:      self.now().UnixNano(),
	}
	if err := self.qpushTagProto(qUplink, f); err != nil {
		self.fcntUp--
		return 0, errors.Annotatef(lorawan.StatusBusy, "bridge queue push err=%v", err)
	}
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
		self.log.Errorf("bridge: downlink truncated len=%d buffer=%d", len(d.Data), len(buf))
	}
	return n, nil
}

// Close stops workers, undelivered uplinks stay in queue.
// Teardown finishes in background, see Done.
func (self *Stack) Close() error {
	self.mu.Lock()
	if self.closing {
		self.mu.Unlock()
		return nil
	}
	self.closing = true
	was := self.joined || self.joining
	self.joined, self.joining = false, false
	future := self.joinFuture
	q := self.q
	self.mu.Unlock()

	self.alive.Stop()
	if future != nil {
		future.Cancel(nil)
	}
	if q != nil {
		q.Close()
	}
	go self.teardown(was)
	return nil
}

// Done is closed when workers exited and broker is closed.
func (self *Stack) Done() <-chan struct{} { return self.done }

func (self *Stack) teardown(wasConnected bool) {
	defer close(self.done)
	self.alive.Wait()
	if err := self.broker.Close(); err != nil {
		self.log.Error(errors.Annotate(err, "bridge Close"))
	}
	if wasConnected {
		self.emit(lorawan.EventDisconnected)
	}
}

func (self *Stack) Stat() Stat {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.stat
}

func (self *Stack) Joined() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.joined
}

func (self *Stack) joinLoop(c lorawan.Credentials, future *helpers.Future) {
	defer self.alive.Done()
	topic := Topic(self.config.TopicPrefix, c.DevEUI, "join")
	stopch := self.alive.StopChan()
	for attempt := 1; attempt <= int(c.JoinAttempts); attempt++ {
		self.mu.Lock()
		self.devNonce++
		self.stat.JoinRequests++
		f := &Frame{
			Kind:     FrameJoinRequest,
			DevEui:   c.DevEUI[:],
			AppEui:   c.AppEUI[:],
			DevNonce: self.devNonce,
			Time:     self.now().UnixNano(),
		}
		self.mu.Unlock()
		if err := self.publish(topic, f); err != nil {
			self.log.Errorf("bridge: join request attempt=%d err=%v", attempt, err)
		} else {
			self.log.Debugf("bridge: join request attempt=%d/%d nonce=%d", attempt, c.JoinAttempts, f.DevNonce)
		}

		tmr := time.NewTimer(self.config.NetworkTimeout)
		select {
		case <-future.Completed():
			tmr.Stop()
			self.mu.Lock()
			self.joining, self.joined = false, true
			self.fcntUp = 0
			self.mu.Unlock()
			self.emit(lorawan.EventConnected)
			return
		case <-future.Cancelled():
			tmr.Stop()
			return
		case <-stopch:
			tmr.Stop()
			return
		case <-tmr.C:
		}
	}
	self.mu.Lock()
	self.joining = false
	self.mu.Unlock()
	self.emit(lorawan.EventJoinFailure)
}

func (self *Stack) onDown(payload []byte) {
	var f Frame
	if err := proto.Unmarshal(payload, &f); err != nil {
		self.log.Errorf("bridge: downlink decode payload=%x err=%v", payload, err)
		self.emit(lorawan.EventRxError)
		return
	}
	switch f.Kind {
	case FrameJoinAccept:
		self.mu.Lock()
		future := self.joinFuture
		joining := self.joining
		self.mu.Unlock()
		if !joining || future == nil {
			self.log.Debugf("bridge: unexpected join accept")
			return
		}
		future.Complete(&f)

	case FrameDownlink:
		self.mu.Lock()
		if !self.joined {
			self.mu.Unlock()
			self.log.Debugf("bridge: downlink before join, ignore")
			return
		}
		if len(self.rx) >= self.config.RxQueue {
			self.stat.Dropped++
			self.mu.Unlock()
			self.log.Errorf("bridge: rx queue full, drop downlink port=%d", f.FPort)
			return
		}
		self.stat.Downlinks++
		self.rx = append(self.rx, lorawan.Downlink{Port: uint8(f.FPort), Data: f.Payload})
		self.mu.Unlock()
		self.emit(lorawan.EventRxDone)
		if f.Pending {
			self.emit(lorawan.EventUplinkRequired)
		}

	default:
		self.log.Errorf("bridge: unexpected frame kind=%d", f.Kind)
	}
}

func (self *Stack) publish(topic string, pb proto.Message) error {
	payload, err := proto.Marshal(pb)
	if err != nil {
		return errors.Annotate(err, "bridge marshal")
	}
	return self.broker.Publish(topic, payload)
}

func (self *Stack) emit(ev lorawan.Event) {
	self.mu.Lock()
	s, h := self.sched, self.handler
	self.mu.Unlock()
	if s == nil || h == nil {
		self.log.Debugf("bridge: drop event=%s no handler", ev)
		return
	}
	s.Call(func() { h(ev) })
}
