// Package session is the application layer of periodic telemetry node.
// Session connects the stack, reacts to stack events and owns the send/retry cycle:
// every send attempt schedules exactly one next attempt, duty cycle "would block"
// retries after RetryDelay, any other outcome waits full TxInterval.
//
// All methods except New and Connect must run on scheduler goroutine.
package session

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/loranode/helpers"
	"github.com/temoto/loranode/internal/lorawan"
	"github.com/temoto/loranode/internal/lpp"
	"github.com/temoto/loranode/internal/sensor"
	"github.com/temoto/loranode/internal/types"
	"github.com/temoto/loranode/log2"
)

type State uint8

const (
	StateNotConnected State = iota
	StateConnecting
	StateConnected
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "not-connected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

type Stat struct {
	Sends         uint32
	SendBytes     uint32
	WouldBlock    uint32
	SendErrors    uint32
	SensorErrors  uint32
	TxDone        uint32
	AsyncTxErrors uint32
	Superseded    uint32
	Receives      uint32
	ReceiveBytes  uint32
	ReceiveErrors uint32
	RxErrors      uint32
}

func (s Stat) String() string {
	return fmt.Sprintf("sends=%d bytes=%d would_block=%d send_errors=%d sensor_errors=%d tx_done=%d async_tx_errors=%d superseded=%d receives=%d rx_bytes=%d receive_errors=%d rx_errors=%d",
		s.Sends, s.SendBytes, s.WouldBlock, s.SendErrors, s.SensorErrors, s.TxDone, s.AsyncTxErrors, s.Superseded,
		s.Receives, s.ReceiveBytes, s.ReceiveErrors, s.RxErrors)
}

type Session struct {
	config Config
	log    *log2.Log
	sched  types.Scheduler
	stack  lorawan.Stack
	sensor sensor.Reader

	state State
	// generation of live send commitment, older timers are no-op
	gen  uint64
	out  [PayloadCapacity]byte
	in   [PayloadCapacity]byte
	enc  *lpp.Encoder
	stat Stat
}

func New(log *log2.Log, config Config, sched types.Scheduler, stack lorawan.Stack, sensor sensor.Reader) *Session {
	self := &Session{
		config: config.withDefaults(),
		log:    log,
		sched:  sched,
		stack:  stack,
		sensor: sensor,
	}
	self.enc = lpp.NewEncoder(self.out[:self.config.PayloadCapacity])
	return self
}

func (self *Session) Config() Config { return self.config }
func (self *Session) State() State   { return self.state }
func (self *Session) Stat() Stat     { return self.stat }

// Connect configures stack and starts join. Any error is fatal for application.
// Join outcome arrives later as event.
func (self *Session) Connect() error {
	if self.state != StateNotConnected {
		return errors.Errorf("session Connect state=%s", self.state)
	}
	if err := self.stack.Initialize(self.sched); err != nil {
		return errors.Annotate(err, "lorawan stack initialization failed")
	}
	self.stack.AddEventCallback(self.HandleEvent)
	self.log.Infof("lorawan stack initialized")

	if err := self.stack.SetConfirmedRetries(self.config.ConfirmedRetries); err != nil {
		return errors.Annotatef(err, "set confirmed retries=%d failed", self.config.ConfirmedRetries)
	}
	self.log.Infof("confirmed message retries=%d", self.config.ConfirmedRetries)

	if err := self.stack.EnableADR(); err != nil {
		return errors.Annotate(err, "enable adaptive data rate failed")
	}
	self.log.Infof("adaptive data rate enabled")

	c := self.config.Credentials
	err := self.stack.Connect(c)
	switch errors.Cause(err) {
	case nil, lorawan.StatusConnectInProgress:
		self.state = StateConnecting
		self.log.Infof("connection in progress dev_eui=%s join_attempts=%d", c.DevEUI, c.JoinAttempts)
		return nil
	}
	return errors.Annotate(err, "connection error")
}

// Disconnect asks stack to close session, Disconnected event stops scheduler.
func (self *Session) Disconnect() error {
	return errors.Annotate(self.stack.Close(), "lorawan stack close")
}

// HandleEvent is the single stack event sink.
func (self *Session) HandleEvent(ev lorawan.Event) {
	if self.state == StateTerminated {
		self.log.Debugf("session terminated, ignore event=%s", ev)
		return
	}

	switch ev {
	case lorawan.EventConnected:
		self.state = StateConnected
		self.log.Infof("connection successful")
		self.schedule(self.config.TxInterval)

	case lorawan.EventDisconnected:
		self.state = StateTerminated
		self.sched.Stop()
		self.log.Infof("disconnected successfully %s", self.stat)

	case lorawan.EventTxDone:
		self.stat.TxDone++
		self.log.Infof("message sent to network server")

	case lorawan.EventTxTimeout, lorawan.EventTxError, lorawan.EventTxCryptoError, lorawan.EventTxSchedulingError:
		self.stat.AsyncTxErrors++
		self.log.Errorf("transmission error event=%s policy=%s", ev, self.config.AsyncTxPolicy)
		if self.config.AsyncTxPolicy == AsyncTxRetry && self.state == StateConnected {
			self.schedule(self.config.RetryDelay)
		}

	case lorawan.EventRxDone:
		self.log.Infof("received message from network server")
		self.Receive()

	case lorawan.EventRxTimeout, lorawan.EventRxError:
		self.stat.RxErrors++
		self.log.Errorf("error in reception event=%s", ev)

	case lorawan.EventJoinFailure:
		self.log.Errorf("join failed, check keys and try connecting again")

	case lorawan.EventUplinkRequired:
		if self.state != StateConnected {
			self.log.Errorf("uplink required in state=%s, ignore", self.state)
			return
		}
		self.log.Infof("uplink required by network server")
		self.Send()

	default:
		panic(fmt.Sprintf("code error session.HandleEvent unknown event=%s", ev))
	}
}

// Send makes one telemetry attempt and schedules exactly one next attempt.
// Outside of Connected state it does nothing.
func (self *Session) Send() {
	if self.state != StateConnected {
		self.log.Infof("send skip state=%s", self.state)
		return
	}
	if err := self.payload(); err != nil {
		self.stat.SensorErrors++
		self.log.Error(err)
		self.schedule(self.config.TxInterval)
		return
	}

	n, err := self.stack.Send(self.config.Port, self.enc.Bytes(), lorawan.FlagUnconfirmed)
	if err != nil {
		if errors.Cause(err) == lorawan.StatusWouldBlock {
			self.stat.WouldBlock++
			self.log.Infof("send would block, retry in %s", self.config.RetryDelay)
			self.schedule(self.config.RetryDelay)
		} else {
			self.stat.SendErrors++
			self.log.Errorf("send err=%v", err)
			self.schedule(self.config.TxInterval)
		}
		return
	}

	self.stat.Sends++
	self.stat.SendBytes += uint32(n)
	self.schedule(self.config.TxInterval)
	self.log.Infof("%d bytes scheduled for transmission", n)
}

// payload reads sensor into outbound encoder.
func (self *Session) payload() error {
	self.enc.Reset()
	ch := self.config.Channel
	if er, ok := self.sensor.(sensor.EnvReader); ok && self.config.Environment {
		env, err := er.ReadEnv()
		if err != nil {
			return errors.Annotate(err, "sensor read")
		}
		self.log.Infof("sensor temperature=%.1f humidity=%.1f pressure=%.1f", env.Celsius, env.HumidityPct, env.PressureHPa)
		if err = self.enc.AddTemperature(ch, env.Celsius); err != nil {
			return errors.Annotate(err, "payload encode")
		}
		if err = self.enc.AddRelativeHumidity(ch+1, env.HumidityPct); err != nil {
			return errors.Annotate(err, "payload encode")
		}
		return errors.Annotate(self.enc.AddBarometricPressure(ch+2, env.PressureHPa), "payload encode")
	}

	value, err := self.sensor.Read()
	if err != nil {
		return errors.Annotate(err, "sensor read")
	}
	self.log.Infof("sensor value=%.1f", value)
	return errors.Annotate(self.enc.AddTemperature(ch, value), "payload encode")
}

// Receive pulls one pending downlink into zeroed inbound buffer.
func (self *Session) Receive() {
	self.in = [PayloadCapacity]byte{}
	n, err := self.stack.Receive(self.config.Port, self.in[:], lorawan.FlagConfirmed|lorawan.FlagUnconfirmed)
	if err != nil {
		self.stat.ReceiveErrors++
		self.log.Errorf("receive err=%v", err)
		return
	}
	self.stat.Receives++
	self.stat.ReceiveBytes += uint32(n)
	data := self.in[:n]
	self.log.Infof("RX data (%d bytes): %s", n, helpers.HexSpaced(data))
	if self.log.Enabled(log2.LDebug) {
		if fs, err := lpp.Decode(data); err == nil && len(fs) != 0 {
			self.log.Debugf("RX lpp %v", fs)
		}
	}
}

// schedule supersedes live send commitment with new one after delay.
func (self *Session) schedule(delay time.Duration) {
	self.gen++
	gen := self.gen
	self.sched.CallAfter(delay, func() { self.fire(gen) })
}

func (self *Session) fire(gen uint64) {
	if gen != self.gen {
		self.stat.Superseded++
		self.log.Debugf("send gen=%d superseded by gen=%d", gen, self.gen)
		return
	}
	self.Send()
}
