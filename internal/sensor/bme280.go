package sensor

import (
	"sync"

	"github.com/juju/errors"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/devices/bmxx80"
	"periph.io/x/periph/host"
)

const DefaultBME280Addr = 0x76

type BME280 struct {
	mu  sync.Mutex
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

var _ Reader = &BME280{}
var _ EnvReader = &BME280{}

// NewBME280 empty busName opens first available bus.
func NewBME280(busName string, addr uint16) (*BME280, error) {
	if addr == 0 {
		addr = DefaultBME280Addr
	}
	if _, err := host.Init(); err != nil {
		return nil, errors.Annotate(err, "periph host init")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Annotatef(err, "i2c open bus=%q", busName)
	}
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		_ = bus.Close()
		return nil, errors.Annotatef(err, "bmxx80 addr=%#x", addr)
	}
	return &BME280{bus: bus, dev: dev}, nil
}

func (self *BME280) Read() (float32, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	var env physic.Env
	if err := self.dev.Sense(&env); err != nil {
		return 0, errors.Annotate(err, "bmxx80 sense")
	}
	return float32(Celsius(env.Temperature)), nil
}

// ReadEnv on BMP280 reports zero humidity, that chip has no humidity sensor.
func (self *BME280) ReadEnv() (Env, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	var env physic.Env
	if err := self.dev.Sense(&env); err != nil {
		return Env{}, errors.Annotate(err, "bmxx80 sense")
	}
	return Env{
		Celsius:     float32(Celsius(env.Temperature)),
		HumidityPct: float32(HumidityPercent(env.Humidity)),
		PressureHPa: float32(PressureHPa(env.Pressure)),
	}, nil
}

func (self *BME280) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	err := self.dev.Halt()
	if e := self.bus.Close(); err == nil {
		err = e
	}
	return errors.Trace(err)
}

func Celsius(t physic.Temperature) float64 {
	return float64(t-physic.ZeroCelsius) / float64(physic.Celsius)
}

// HumidityPercent converts fixed point 0.00001%rH units.
func HumidityPercent(h physic.RelativeHumidity) float64 { return float64(h) / 100000 }

// PressureHPa converts nano Pascal.
func PressureHPa(p physic.Pressure) float64 { return float64(p) / 1e7 }
