// Package lpp implements Cayenne Low Power Payload encoding.
// Frame is a sequence of fields: channel(1) type(1) value(N, big endian).
// Encoder writes into caller owned fixed capacity buffer and never allocates.
package lpp

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/juju/errors"
)

type Type uint8

const (
	DigitalInput       Type = 0
	DigitalOutput      Type = 1
	AnalogInput        Type = 2
	AnalogOutput       Type = 3
	Luminosity         Type = 101
	Presence           Type = 102
	Temperature        Type = 103
	RelativeHumidity   Type = 104
	BarometricPressure Type = 115
)

type typeInfo struct {
	name   string
	size   int
	scale  float64 // raw = value * scale
	signed bool
}

var types = map[Type]typeInfo{
	DigitalInput:       {"digital_input", 1, 1, false},
	DigitalOutput:      {"digital_output", 1, 1, false},
	AnalogInput:        {"analog_input", 2, 100, true},
	AnalogOutput:       {"analog_output", 2, 100, true},
	Luminosity:         {"luminosity", 2, 1, false},
	Presence:           {"presence", 1, 1, false},
	Temperature:        {"temperature", 2, 10, true},
	RelativeHumidity:   {"relative_humidity", 1, 2, false},
	BarometricPressure: {"barometric_pressure", 2, 10, false},
}

func (t Type) String() string {
	if ti, ok := types[t]; ok {
		return ti.name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Size of encoded field including channel and type bytes, 0 for unknown type.
func (t Type) Size() int {
	if ti, ok := types[t]; ok {
		return 2 + ti.size
	}
	return 0
}

var (
	ErrOverflow    = errors.New("lpp: buffer capacity exceeded")
	ErrUnknownType = errors.New("lpp: unknown type")
	ErrRange       = errors.New("lpp: value out of range")
)

type Encoder struct {
	buf []byte
	n   int
}

// NewEncoder uses full len(buf) as capacity.
func NewEncoder(buf []byte) *Encoder { return &Encoder{buf: buf} }

// Reset forgets written fields, buffer is reused.
func (e *Encoder) Reset() { e.n = 0 }

func (e *Encoder) Bytes() []byte { return e.buf[:e.n] }
func (e *Encoder) Len() int      { return e.n }
func (e *Encoder) Cap() int      { return len(e.buf) }

func (e *Encoder) AddTemperature(channel uint8, celsius float32) error {
	return e.AddField(channel, Temperature, float64(celsius))
}

func (e *Encoder) AddRelativeHumidity(channel uint8, percent float32) error {
	return e.AddField(channel, RelativeHumidity, float64(percent))
}

func (e *Encoder) AddBarometricPressure(channel uint8, hpa float32) error {
	return e.AddField(channel, BarometricPressure, float64(hpa))
}

// AddField appends one numeric field. On error encoder state is unchanged.
func (e *Encoder) AddField(channel uint8, t Type, value float64) error {
	ti, ok := types[t]
	if !ok {
		return errors.Annotatef(ErrUnknownType, "type=%d", uint8(t))
	}
	if e.n+2+ti.size > len(e.buf) {
		return errors.Annotatef(ErrOverflow, "type=%s len=%d cap=%d", t, e.n, len(e.buf))
	}
	// single precision product truncated toward zero, same bytes as reference C encoder
	raw := math.Trunc(float64(float32(value * ti.scale)))
	bits := uint(ti.size * 8)
	var min, max float64
	if ti.signed {
		min, max = -math.Exp2(float64(bits-1)), math.Exp2(float64(bits-1))-1
	} else {
		min, max = 0, math.Exp2(float64(bits))-1
	}
	if math.IsNaN(raw) || raw < min || raw > max {
		return errors.Annotatef(ErrRange, "type=%s value=%v", t, value)
	}

	p := e.buf[e.n:]
	p[0] = channel
	p[1] = byte(t)
	switch ti.size {
	case 1:
		p[2] = byte(int64(raw))
	case 2:
		binary.BigEndian.PutUint16(p[2:], uint16(int64(raw)))
	}
	e.n += 2 + ti.size
	return nil
}

type Field struct {
	Channel uint8
	Type    Type
	Value   float64
}

func (f Field) String() string {
	return fmt.Sprintf("ch%d/%s=%g", f.Channel, f.Type, f.Value)
}

// Decode parses whole frame. Unknown type stops decoding with error, fields before it are returned.
func Decode(b []byte) ([]Field, error) {
	fs := make([]Field, 0, 4)
	for len(b) > 0 {
		if len(b) < 2 {
			return fs, errors.NotValidf("lpp: truncated header")
		}
		ch, t := b[0], Type(b[1])
		ti, ok := types[t]
		if !ok {
			return fs, errors.Annotatef(ErrUnknownType, "type=%d", uint8(t))
		}
		if len(b) < 2+ti.size {
			return fs, errors.NotValidf("lpp: truncated %s", t)
		}
		var raw int64
		switch ti.size {
		case 1:
			if ti.signed {
				raw = int64(int8(b[2]))
			} else {
				raw = int64(b[2])
			}
		case 2:
			u := binary.BigEndian.Uint16(b[2:])
			if ti.signed {
				raw = int64(int16(u))
			} else {
				raw = int64(u)
			}
		}
		fs = append(fs, Field{Channel: ch, Type: t, Value: float64(raw) / ti.scale})
		b = b[2+ti.size:]
	}
	return fs, nil
}
