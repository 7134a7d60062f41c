package bridge

import (
	"github.com/golang/protobuf/proto"
)

// Frame kinds
const (
	FrameInvalid     uint32 = 0
	FrameUplink      uint32 = 1
	FrameJoinRequest uint32 = 2
	FrameJoinAccept  uint32 = 3
	FrameDownlink    uint32 = 4
)

// Frame is the wire message between node and gateway side of the bridge.
// Field numbers are stable, keep compatible with gateway.
type Frame struct {
	Kind      uint32 `protobuf:"varint,1,opt,name=kind,proto3" json:"kind,omitempty"`
	DevEui    []byte `protobuf:"bytes,2,opt,name=dev_eui,json=devEui,proto3" json:"dev_eui,omitempty"`
	AppEui    []byte `protobuf:"bytes,3,opt,name=app_eui,json=appEui,proto3" json:"app_eui,omitempty"`
	FPort     uint32 `protobuf:"varint,4,opt,name=f_port,json=fPort,proto3" json:"f_port,omitempty"`
	FCnt      uint32 `protobuf:"varint,5,opt,name=f_cnt,json=fCnt,proto3" json:"f_cnt,omitempty"`
	Confirmed bool   `protobuf:"varint,6,opt,name=confirmed,proto3" json:"confirmed,omitempty"`
	Payload   []byte `protobuf:"bytes,7,opt,name=payload,proto3" json:"payload,omitempty"`
	Pending   bool   `protobuf:"varint,8,opt,name=pending,proto3" json:"pending,omitempty"`
	DevNonce  uint32 `protobuf:"varint,9,opt,name=dev_nonce,json=devNonce,proto3" json:"dev_nonce,omitempty"`
	Time      int64  `protobuf:"varint,10,opt,name=time,proto3" json:"time,omitempty"`
}

func (m *Frame) Reset()         { *m = Frame{} }
func (m *Frame) String() string { return proto.CompactTextString(m) }
func (*Frame) ProtoMessage()    {}

var _ proto.Message = &Frame{}
