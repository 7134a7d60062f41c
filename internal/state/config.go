package state

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/loranode/helpers"
	"github.com/temoto/loranode/internal/lorawan"
	"github.com/temoto/loranode/internal/lorawan/bridge"
	"github.com/temoto/loranode/internal/lorawan/sim"
	"github.com/temoto/loranode/internal/sensor"
	"github.com/temoto/loranode/internal/session"
	"github.com/temoto/loranode/log2"
)

// Factory credentials of development node, override in config.
const (
	DefaultDevEUI = "00F37ECF1738F5FC"
	DefaultAppEUI = "70B3D57ED000A103"
	DefaultAppKey = "4C1FA5857EE3DE5CE21F96FC04415378"

	DefaultQueuePath = "./tmp-loranode-queue"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogDebug bool `hcl:"log_debug"`

	Lorawan struct { //nolint:maligned
		Stack            string  `hcl:"stack"`
		DevEUI           string  `hcl:"dev_eui"`
		AppEUI           string  `hcl:"app_eui"`
		AppKey           string  `hcl:"app_key"`
		JoinAttempts     int     `hcl:"join_attempts"`
		ConfirmedRetries *int    `hcl:"confirmed_retries"` // nil = default, 0 is valid
		DutyCyclePercent float64 `hcl:"duty_cycle_percent"`
		SpreadingFactor  int     `hcl:"spreading_factor"`
		BandwidthKHz     int     `hcl:"bandwidth_khz"`

		Sim struct {
			JoinDelayMs int  `hcl:"join_delay_ms"`
			FailJoin    bool `hcl:"fail_join"`
			LogDebug    bool `hcl:"log_debug"`
		} `hcl:"sim"`

		Bridge struct {
			MqttBroker        string `hcl:"mqtt_broker"`
			MqttPassword      string `hcl:"mqtt_password"`
			MqttLogDebug      bool   `hcl:"mqtt_log_debug"`
			TopicPrefix       string `hcl:"topic_prefix"`
			QueuePath         string `hcl:"queue_path"`
			NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
			KeepaliveSec      int    `hcl:"keepalive_sec"`
			PublishRetries    int    `hcl:"publish_retries"`
		} `hcl:"bridge"`
	} `hcl:"lorawan"`

	Session struct {
		TxIntervalMs    int    `hcl:"tx_interval_ms"`
		RetryDelayMs    int    `hcl:"retry_delay_ms"`
		Port            int    `hcl:"port"`
		Channel         int    `hcl:"channel"`
		PayloadCapacity int    `hcl:"payload_capacity"`
		OnAsyncTxError  string `hcl:"on_async_tx_error"`
		Environment     bool   `hcl:"environment"`
	} `hcl:"session"`

	Sensor struct {
		Driver  string `hcl:"driver"`
		I2CBus  string `hcl:"i2c_bus"`
		I2CAddr int    `hcl:"i2c_addr"`
		Seed    int64  `hcl:"seed"`
	} `hcl:"sensor"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, errors.Trace(err)
		}
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if err := helpers.FoldErrors(errs); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

// Validate reports all invalid values at once.
func (c *Config) Validate() error {
	errs := make([]error, 0, 8)
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, errors.NotValidf(format, args...))
		}
	}
	lc := &c.Lorawan
	switch lc.Stack {
	case "", "sim":
	case "bridge":
		check(lc.Bridge.MqttBroker != "", "config: lorawan.bridge.mqtt_broker=empty")
	default:
		check(false, "config: lorawan.stack=%s", lc.Stack)
	}
	if _, err := c.Credentials(); err != nil {
		errs = append(errs, err)
	}
	check(lc.JoinAttempts >= 0 && lc.JoinAttempts <= 255, "config: lorawan.join_attempts=%d", lc.JoinAttempts)
	if lc.ConfirmedRetries != nil {
		check(*lc.ConfirmedRetries >= 0 && *lc.ConfirmedRetries < 255, "config: lorawan.confirmed_retries=%d", *lc.ConfirmedRetries)
	}
	check(lc.DutyCyclePercent >= 0 && lc.DutyCyclePercent <= 100, "config: lorawan.duty_cycle_percent=%v", lc.DutyCyclePercent)
	check(lc.SpreadingFactor == 0 || (lc.SpreadingFactor >= 7 && lc.SpreadingFactor <= 12), "config: lorawan.spreading_factor=%d", lc.SpreadingFactor)
	switch lc.BandwidthKHz {
	case 0, 125, 250, 500:
	default:
		check(false, "config: lorawan.bandwidth_khz=%d", lc.BandwidthKHz)
	}
	check(lc.Sim.JoinDelayMs >= 0, "config: lorawan.sim.join_delay_ms=%d", lc.Sim.JoinDelayMs)
	check(lc.Bridge.NetworkTimeoutSec >= 0, "config: lorawan.bridge.network_timeout_sec=%d", lc.Bridge.NetworkTimeoutSec)
	check(lc.Bridge.KeepaliveSec >= 0, "config: lorawan.bridge.keepalive_sec=%d", lc.Bridge.KeepaliveSec)

	sc := &c.Session
	check(sc.TxIntervalMs >= 0, "config: session.tx_interval_ms=%d", sc.TxIntervalMs)
	check(sc.RetryDelayMs >= 0, "config: session.retry_delay_ms=%d", sc.RetryDelayMs)
	check(sc.Port == 0 || (sc.Port >= int(lorawan.PortMin) && sc.Port <= int(lorawan.PortMax)), "config: session.port=%d", sc.Port)
	check(sc.Channel >= 0 && sc.Channel <= 255, "config: session.channel=%d", sc.Channel)
	check(sc.PayloadCapacity >= 0 && sc.PayloadCapacity <= session.PayloadCapacity, "config: session.payload_capacity=%d", sc.PayloadCapacity)
	if _, err := session.ParseAsyncTxPolicy(sc.OnAsyncTxError); err != nil {
		errs = append(errs, errors.Annotate(err, "config"))
	}

	switch c.Sensor.Driver {
	case "", "random", "bme280", "bmp280":
	default:
		check(false, "config: sensor.driver=%s", c.Sensor.Driver)
	}
	check(c.Sensor.I2CAddr >= 0 && c.Sensor.I2CAddr <= 0x7f, "config: sensor.i2c_addr=%d", c.Sensor.I2CAddr)

	return helpers.FoldErrors(errs)
}

func (c *Config) Credentials() (lorawan.Credentials, error) {
	var cred lorawan.Credentials
	var err error
	lc := &c.Lorawan
	if cred.DevEUI, err = lorawan.ParseEUI64(stringDefault(lc.DevEUI, DefaultDevEUI)); err != nil {
		return cred, errors.Annotate(err, "config: lorawan.dev_eui")
	}
	if cred.AppEUI, err = lorawan.ParseEUI64(stringDefault(lc.AppEUI, DefaultAppEUI)); err != nil {
		return cred, errors.Annotate(err, "config: lorawan.app_eui")
	}
	if cred.AppKey, err = lorawan.ParseAES128Key(stringDefault(lc.AppKey, DefaultAppKey)); err != nil {
		return cred, errors.Annotate(err, "config: lorawan.app_key")
	}
	cred.JoinAttempts = uint8(lc.JoinAttempts)
	if cred.JoinAttempts == 0 {
		cred.JoinAttempts = session.DefaultJoinAttempts
	}
	return cred, nil
}

func (c *Config) Radio() lorawan.RadioParams {
	r := lorawan.DefaultRadioParams()
	if c.Lorawan.SpreadingFactor != 0 {
		r.SpreadingFactor = c.Lorawan.SpreadingFactor
	}
	if c.Lorawan.BandwidthKHz != 0 {
		r.BandwidthKHz = c.Lorawan.BandwidthKHz
	}
	return r
}

func (c *Config) SessionConfig() (session.Config, error) {
	sc := &c.Session
	policy, err := session.ParseAsyncTxPolicy(sc.OnAsyncTxError)
	if err != nil {
		return session.Config{}, errors.Annotate(err, "config")
	}
	cred, err := c.Credentials()
	if err != nil {
		return session.Config{}, err
	}
	retries := session.DefaultConfirmedRetries
	if c.Lorawan.ConfirmedRetries != nil {
		retries = uint8(*c.Lorawan.ConfirmedRetries)
	}
	return session.Config{
		TxInterval:       helpers.IntMillisecondDefault(sc.TxIntervalMs, session.DefaultTxInterval),
		RetryDelay:       helpers.IntMillisecondDefault(sc.RetryDelayMs, session.DefaultRetryDelay),
		Port:             uint8(sc.Port),
		Channel:          uint8(sc.Channel),
		ConfirmedRetries: retries,
		PayloadCapacity:  sc.PayloadCapacity,
		Credentials:      cred,
		AsyncTxPolicy:    policy,
		Environment:      sc.Environment,
	}, nil
}

func (c *Config) SimConfig() sim.Config {
	return sim.Config{
		JoinDelay:        helpers.IntMillisecondDefault(c.Lorawan.Sim.JoinDelayMs, sim.DefaultJoinDelay),
		FailJoin:         c.Lorawan.Sim.FailJoin,
		Radio:            c.Radio(),
		DutyCyclePercent: c.Lorawan.DutyCyclePercent,
	}
}

// ShutdownTimeout bounds wait for Disconnected after stack close.
// Bridge may be inside publish retries, sim disconnects synchronously.
func (c *Config) ShutdownTimeout() time.Duration {
	if c == nil || c.Lorawan.Stack != "bridge" {
		return 0
	}
	bc := c.BridgeConfig()
	retries := bc.PublishRetries
	if retries <= 0 {
		retries = bridge.DefaultPublishRetries
	}
	return bc.NetworkTimeout*time.Duration(retries) + time.Second
}

func (c *Config) BridgeConfig() bridge.Config {
	bc := &c.Lorawan.Bridge
	queuePath := bc.QueuePath
	if queuePath == "" {
		queuePath = DefaultQueuePath
	}
	return bridge.Config{
		TopicPrefix:      bc.TopicPrefix,
		QueuePath:        queuePath,
		NetworkTimeout:   helpers.IntSecondDefault(bc.NetworkTimeoutSec, bridge.DefaultNetworkTimeout),
		PublishRetries:   bc.PublishRetries,
		Radio:            c.Radio(),
		DutyCyclePercent: c.Lorawan.DutyCyclePercent,
	}
}

func (c *Config) MQTTConfig() bridge.MQTTConfig {
	bc := &c.Lorawan.Bridge
	cred, _ := c.Credentials()
	return bridge.MQTTConfig{
		Broker:         bc.MqttBroker,
		ClientID:       "loranode-" + cred.DevEUI.String(),
		Password:       bc.MqttPassword,
		NetworkTimeout: helpers.IntSecondDefault(bc.NetworkTimeoutSec, bridge.DefaultNetworkTimeout),
		KeepAlive:      helpers.IntSecondDefault(bc.KeepaliveSec, 0),
		LogDebug:       bc.MqttLogDebug,
	}
}

func (c *Config) SensorConfig() sensor.Config {
	return sensor.Config{
		Driver:  c.Sensor.Driver,
		I2CBus:  c.Sensor.I2CBus,
		I2CAddr: uint16(c.Sensor.I2CAddr),
		Seed:    c.Sensor.Seed,
	}
}

func stringDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
