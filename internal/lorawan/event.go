package lorawan

import "fmt"

// Event is asynchronous stack notification delivered through scheduler.
type Event uint8

const (
	EventInvalid Event = iota
	EventConnected
	EventDisconnected
	EventTxDone
	EventTxTimeout
	EventTxError
	EventTxCryptoError
	EventTxSchedulingError
	EventRxDone
	EventRxTimeout
	EventRxError
	EventJoinFailure
	EventUplinkRequired
)

var eventNames = [...]string{
	EventInvalid:           "Invalid",
	EventConnected:         "Connected",
	EventDisconnected:      "Disconnected",
	EventTxDone:            "TxDone",
	EventTxTimeout:         "TxTimeout",
	EventTxError:           "TxError",
	EventTxCryptoError:     "TxCryptoError",
	EventTxSchedulingError: "TxSchedulingError",
	EventRxDone:            "RxDone",
	EventRxTimeout:         "RxTimeout",
	EventRxError:           "RxError",
	EventJoinFailure:       "JoinFailure",
	EventUplinkRequired:    "UplinkRequired",
}

func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", uint8(e))
}

// IsTxFailure is true for asynchronous send failures.
func (e Event) IsTxFailure() bool {
	switch e {
	case EventTxTimeout, EventTxError, EventTxCryptoError, EventTxSchedulingError:
		return true
	}
	return false
}

type EventHandler func(Event)

// Flag selects message class for Send/Receive.
type Flag uint8

const (
	FlagUnconfirmed Flag = 0x01
	FlagConfirmed   Flag = 0x02
)

func (f Flag) Has(x Flag) bool { return f&x != 0 }
