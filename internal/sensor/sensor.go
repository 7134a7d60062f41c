// Package sensor provides temperature and environment readings for telemetry uplinks.
package sensor

import (
	"math/rand"
	"sync"
	"time"

	"github.com/juju/errors"
)

type Reader interface {
	// Read returns temperature in degrees Celsius.
	Read() (float32, error)
	Close() error
}

// Env is one combined reading of environmental sensor.
type Env struct {
	Celsius     float32
	HumidityPct float32
	PressureHPa float32
}

// EnvReader is implemented by sensors measuring more than temperature.
type EnvReader interface {
	ReadEnv() (Env, error)
}

const (
	RandomMin = 10
	RandomMax = 60
)

// Random reading is uniform in [RandomMin, RandomMax).
type Random struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

var _ Reader = &Random{}

func NewRandom(seed int64) *Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{rnd: rand.New(rand.NewSource(seed))}
}

func (self *Random) Read() (float32, error) {
	self.mu.Lock()
	f := self.rnd.Float32()
	self.mu.Unlock()
	return RandomMin + f*(RandomMax-RandomMin), nil
}

func (self *Random) Close() error { return nil }

// Fixed returns Value or Err, for tests and console.
type Fixed struct {
	mu       sync.Mutex
	Value    float32
	Humidity float32
	Pressure float32
	Err      error
	Reads    int
}

var _ Reader = &Fixed{}
var _ EnvReader = &Fixed{}

func (self *Fixed) Read() (float32, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Reads++
	if self.Err != nil {
		return 0, self.Err
	}
	return self.Value, nil
}

func (self *Fixed) ReadEnv() (Env, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Reads++
	if self.Err != nil {
		return Env{}, self.Err
	}
	return Env{Celsius: self.Value, HumidityPct: self.Humidity, PressureHPa: self.Pressure}, nil
}

func (self *Fixed) Set(v float32, err error) {
	self.mu.Lock()
	self.Value, self.Err = v, err
	self.mu.Unlock()
}

func (self *Fixed) Close() error { return nil }

type Config struct {
	Driver  string
	I2CBus  string
	I2CAddr uint16
	Seed    int64
}

// New opens reader by driver name, empty means random.
func New(c Config) (Reader, error) {
	switch c.Driver {
	case "", "random":
		return NewRandom(c.Seed), nil
	case "bme280", "bmp280":
		r, err := NewBME280(c.I2CBus, c.I2CAddr)
		return r, errors.Annotatef(err, "sensor driver=%s", c.Driver)
	default:
		return nil, errors.NotSupportedf("sensor driver=%s", c.Driver)
	}
}
