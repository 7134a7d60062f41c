package bridge

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/loranode/log2"
)

const DefaultNetworkTimeout = 30 * time.Second

type MQTTConfig struct {
	Broker         string
	ClientID       string
	Password       string
	NetworkTimeout time.Duration
	KeepAlive      time.Duration
	LogDebug       bool
}

type MQTTBroker struct {
	log     *log2.Log
	m       mqtt.Client
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]func([]byte)
}

var _ Broker = &MQTTBroker{}

// NewMQTTBroker starts connecting in background, network issues are not reported here.
// Subscriptions are restored on every reconnect.
func NewMQTTBroker(log *log2.Log, c MQTTConfig) (*MQTTBroker, error) {
	if c.Broker == "" {
		return nil, errors.NotValidf("mqtt broker empty")
	}
	timeout := c.NetworkTimeout
	if timeout <= 0 {
		timeout = DefaultNetworkTimeout
	}
	if timeout < time.Second {
		timeout = time.Second
	}
	keepalive := c.KeepAlive
	if keepalive <= 0 {
		keepalive = timeout * 2
	}

	mqttLog := log.Clone(log2.LInfo)
	mqttLog.SetPrefix("mqtt: ")
	mqtt.CRITICAL = mqttLog
	mqtt.ERROR = mqttLog
	mqtt.WARN = mqttLog
	if c.LogDebug {
		mqtt.DEBUG = mqttLog
	}

	self := &MQTTBroker{
		log:     log,
		timeout: timeout,
		subs:    make(map[string]func([]byte)),
	}
	credFun := func() (string, string) {
		return c.ClientID, c.Password
	}
	opt := mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetCredentialsProvider(credFun).
		SetCleanSession(true).
		SetKeepAlive(keepalive).
		SetPingTimeout(timeout).
		SetConnectTimeout(timeout).
		SetWriteTimeout(timeout).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(timeout / 2).
		SetOnConnectHandler(self.onConnect).
		SetConnectionLostHandler(self.onConnectionLost)
	self.m = mqtt.NewClient(opt)
	if token := self.m.Connect(); token.Error() != nil {
		return nil, errors.Annotatef(token.Error(), "mqtt connect broker=%s", c.Broker)
	}
	return self, nil
}

func (self *MQTTBroker) Publish(topic string, payload []byte) error {
	token := self.m.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(self.timeout) {
		return errors.Annotatef(ErrPublishTimeout, "topic=%s", topic)
	}
	return errors.Annotatef(token.Error(), "mqtt publish topic=%s", topic)
}

func (self *MQTTBroker) Subscribe(topic string, handler func([]byte)) error {
	self.mu.Lock()
	self.subs[topic] = handler
	self.mu.Unlock()
	if !self.m.IsConnected() {
		// onConnect will subscribe
		return nil
	}
	return self.subscribe(self.m, topic, handler)
}

func (self *MQTTBroker) Close() error {
	self.m.Disconnect(uint(self.timeout / time.Millisecond))
	return nil
}

func (self *MQTTBroker) subscribe(c mqtt.Client, topic string, handler func([]byte)) error {
	token := c.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	if !token.WaitTimeout(self.timeout) {
		return errors.Timeoutf("mqtt subscribe topic=%s", topic)
	}
	return errors.Annotatef(token.Error(), "mqtt subscribe topic=%s", topic)
}

func (self *MQTTBroker) onConnect(c mqtt.Client) {
	self.log.Infof("mqtt connected")
	self.mu.Lock()
	subs := make(map[string]func([]byte), len(self.subs))
	for t, h := range self.subs {
		subs[t] = h
	}
	self.mu.Unlock()
	for t, h := range subs {
		if err := self.subscribe(c, t, h); err != nil {
			self.log.Error(err)
		}
	}
}

func (self *MQTTBroker) onConnectionLost(c mqtt.Client, err error) {
	self.log.Infof("mqtt connection lost err=%v", err)
}
