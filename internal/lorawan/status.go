package lorawan

import "fmt"

// Status is stack return code. Zero is success, negative values are errors.
// Numbering follows the classic embedded LoRaWAN stack API.
type Status int16

const (
	StatusOK                   Status = 0
	StatusBusy                 Status = -1000
	StatusWouldBlock           Status = -1001
	StatusServiceUnknown       Status = -1002
	StatusParameterInvalid     Status = -1003
	StatusFrequencyInvalid     Status = -1004
	StatusDatarateInvalid      Status = -1005
	StatusFreqAndDrInvalid     Status = -1006
	StatusNoNetworkJoined      Status = -1009
	StatusLengthError          Status = -1010
	StatusDeviceOff            Status = -1011
	StatusNotInitialized       Status = -1012
	StatusUnsupported          Status = -1013
	StatusCryptoFail           Status = -1014
	StatusPortInvalid          Status = -1015
	StatusConnectInProgress    Status = -1016
	StatusNoActiveSessions     Status = -1017
	StatusIdle                 Status = -1018
	StatusNoOp                 Status = -1019
	StatusDutyCycleRestricted  Status = -1020
	StatusNoChannelFound       Status = -1021
	StatusNoFreeChannelFound   Status = -1022
	StatusMetadataNotAvailable Status = -1023
	StatusAlreadyConnected     Status = -1024
)

var statusNames = map[Status]string{
	StatusOK:                   "ok",
	StatusBusy:                 "busy",
	StatusWouldBlock:           "would block",
	StatusServiceUnknown:       "service unknown",
	StatusParameterInvalid:     "parameter invalid",
	StatusFrequencyInvalid:     "frequency invalid",
	StatusDatarateInvalid:      "datarate invalid",
	StatusFreqAndDrInvalid:     "frequency and datarate invalid",
	StatusNoNetworkJoined:      "no network joined",
	StatusLengthError:          "length error",
	StatusDeviceOff:            "device off",
	StatusNotInitialized:       "not initialized",
	StatusUnsupported:          "unsupported",
	StatusCryptoFail:           "crypto fail",
	StatusPortInvalid:          "port invalid",
	StatusConnectInProgress:    "connect in progress",
	StatusNoActiveSessions:     "no active sessions",
	StatusIdle:                 "idle",
	StatusNoOp:                 "no op",
	StatusDutyCycleRestricted:  "duty cycle restricted",
	StatusNoChannelFound:       "no channel found",
	StatusNoFreeChannelFound:   "no free channel found",
	StatusMetadataNotAvailable: "metadata not available",
	StatusAlreadyConnected:     "already connected",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int16(s))
}

func (s Status) Error() string { return fmt.Sprintf("lorawan: %s code=%d", s.String(), int16(s)) }

// Err converts OK to nil.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return s
}
