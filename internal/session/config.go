package session

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/loranode/internal/lorawan"
)

const (
	DefaultTxInterval             = 10 * time.Second
	DefaultRetryDelay             = 3 * time.Second
	DefaultPort             uint8 = 15
	DefaultChannel          uint8 = 1
	DefaultConfirmedRetries uint8 = 3
	DefaultJoinAttempts     uint8 = 10
	PayloadCapacity               = 50
)

// AsyncTxPolicy decides reaction to asynchronous send failure events
// (TxTimeout, TxError, TxCryptoError, TxSchedulingError).
type AsyncTxPolicy uint8

const (
	// AsyncTxIgnore only logs, next periodic send was already scheduled by Send.
	AsyncTxIgnore AsyncTxPolicy = iota
	// AsyncTxRetry supersedes pending send with one after RetryDelay.
	AsyncTxRetry
)

func (p AsyncTxPolicy) String() string {
	switch p {
	case AsyncTxIgnore:
		return "ignore"
	case AsyncTxRetry:
		return "retry"
	}
	return fmt.Sprintf("AsyncTxPolicy(%d)", uint8(p))
}

func ParseAsyncTxPolicy(s string) (AsyncTxPolicy, error) {
	switch s {
	case "", "ignore":
		return AsyncTxIgnore, nil
	case "retry":
		return AsyncTxRetry, nil
	}
	return AsyncTxIgnore, errors.NotValidf("on_async_tx_error=%s", s)
}

type Config struct {
	TxInterval       time.Duration
	RetryDelay       time.Duration
	Port             uint8
	Channel          uint8
	ConfirmedRetries uint8
	// outbound payload limit, at most PayloadCapacity
	PayloadCapacity int
	Credentials     lorawan.Credentials
	AsyncTxPolicy   AsyncTxPolicy
	// Environment adds humidity on Channel+1 and pressure on Channel+2
	// when sensor implements sensor.EnvReader.
	Environment bool
}

// withDefaults fills zero values. ConfirmedRetries=0 is valid and kept.
func (c Config) withDefaults() Config {
	if c.TxInterval <= 0 {
		c.TxInterval = DefaultTxInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Channel == 0 {
		c.Channel = DefaultChannel
	}
	if c.PayloadCapacity <= 0 || c.PayloadCapacity > PayloadCapacity {
		c.PayloadCapacity = PayloadCapacity
	}
	if c.Credentials.JoinAttempts == 0 {
		c.Credentials.JoinAttempts = DefaultJoinAttempts
	}
	return c
}
