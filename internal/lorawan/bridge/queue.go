package bridge

import (
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/temoto/loranode/internal/lorawan"
	"github.com/temoto/spq"
)

// denote value type in persistent queue bytes form
const (
	qUplink byte = 1
)

func (self *Stack) qworker() {
	defer self.alive.Done()
	stopch := self.alive.StopChan()
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			b := box.Bytes()
			if err = self.qhandle(b); err != nil {
				self.log.Errorf("bridge qhandle b=%x err=%v", b, err)
			}
			if err = self.q.Delete(box); err != nil {
				self.log.Errorf("bridge qhandle Delete b=%x err=%v", b, err)
			}

		case spq.ErrClosed:
			select {
			case <-stopch: // success path
			default:
				self.log.Errorf("CRITICAL bridge spq closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL bridge spq err=%v", err)
			select {
			case <-stopch:
				return
			case <-time.After(self.config.NetworkTimeout):
			}
		}
	}
}

func (self *Stack) qhandle(b []byte) error {
	if len(b) == 0 {
		return errors.NotValidf("bridge spq peek=empty")
	}

	switch b[0] {
	case qUplink:
		var f Frame
		if err := proto.Unmarshal(b[1:], &f); err != nil {
			return errors.Annotate(err, "uplink unmarshal")
		}
		self.qsendUplink(&f)
		return nil

	default:
		return errors.Errorf("unknown kind=%d", b[0])
	}
}

// qpushTagProto caller must hold self.mu
func (self *Stack) qpushTagProto(tag byte, pb proto.Message) error {
	buf := proto.NewBuffer(make([]byte, 0, 64+lorawan.MaxPayload))
	if err := buf.EncodeVarint(uint64(tag)); err != nil {
		return err
	}
	if err := buf.Marshal(pb); err != nil {
		return err
	}
	return self.q.Push(buf.Bytes())
}

// qsendUplink publishes with limited retries and reports outcome as stack event.
func (self *Stack) qsendUplink(f *Frame) {
	var devEUI lorawan.EUI64
	copy(devEUI[:], f.DevEui)
	topic := Topic(self.config.TopicPrefix, devEUI, "up")
	stopch := self.alive.StopChan()
	for attempt := 1; ; attempt++ {
		err := self.publish(topic, f)
		self.backoff.Update(err == nil)
		if err == nil {
			self.mu.Lock()
			self.stat.Published++
			self.mu.Unlock()
			self.log.Debugf("bridge: uplink fcnt=%d published", f.FCnt)
			self.emit(lorawan.EventTxDone)
			return
		}
		self.mu.Lock()
		self.stat.PublishErrors++
		self.mu.Unlock()
		self.log.Errorf("bridge: uplink fcnt=%d attempt=%d/%d err=%v", f.FCnt, attempt, self.config.PublishRetries, err)
		if attempt >= self.config.PublishRetries {
			ev := lorawan.EventTxError
			if errors.Cause(err) == ErrPublishTimeout {
				ev = lorawan.EventTxTimeout
			}
			self.emit(ev)
			return
		}
		select {
		case <-stopch:
			return
		case <-time.After(self.backoff.DelayBefore()):
		}
	}
}
