// Package lorawan defines contract between application and LoRaWAN connectivity stack.
// Stack implementations own radio session, deliver events on types.Scheduler
// and never block in Send/Receive.
package lorawan

import "github.com/temoto/loranode/internal/types"

// Stack contract:
//   - Initialize must be called first, scheduler becomes the only event sink
//   - Connect returns nil or StatusConnectInProgress when join continues asynchronously,
//     outcome arrives as EventConnected or EventJoinFailure
//   - Send returns number of bytes scheduled for transmission or Status error,
//     StatusWouldBlock means duty cycle budget is exhausted at the moment
//   - Receive copies at most len(buf) bytes of pending downlink
//   - events are delivered via Scheduler.Call, handler runs on dispatch goroutine
type Stack interface {
	Initialize(types.Scheduler) error
	AddEventCallback(EventHandler)
	SetConfirmedRetries(n uint8) error
	EnableADR() error
	Connect(Credentials) error
	Send(port uint8, data []byte, flags Flag) (int, error)
	Receive(port uint8, buf []byte, flags Flag) (int, error)
	Close() error
}

const (
	MaxPayload = 242
	// application ports 1..223
	PortMin uint8 = 1
	PortMax uint8 = 223
)

// Downlink is application data received from network.
type Downlink struct {
	Port uint8
	Data []byte
}

func ValidPort(p uint8) bool { return p >= PortMin && p <= PortMax }
