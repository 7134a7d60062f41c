package state

import (
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/loranode/internal/lorawan"
	"github.com/temoto/loranode/internal/session"
	"github.com/temoto/loranode/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			sc, err := c.SessionConfig()
			require.NoError(t, err)
			assert.Equal(t, 10*time.Second, sc.TxInterval)
			assert.Equal(t, 3*time.Second, sc.RetryDelay)
			assert.Equal(t, uint8(3), sc.ConfirmedRetries)
			assert.Equal(t, session.AsyncTxIgnore, sc.AsyncTxPolicy)
			assert.Equal(t, "00F37ECF1738F5FC", sc.Credentials.DevEUI.String())
			assert.Equal(t, "70B3D57ED000A103", sc.Credentials.AppEUI.String())
			assert.Equal(t, uint8(10), sc.Credentials.JoinAttempts)
			assert.Equal(t, lorawan.DefaultRadioParams(), c.Radio())
			assert.Equal(t, DefaultQueuePath, c.BridgeConfig().QueuePath)
		}, ""},

		{"full", `
log_debug = true
lorawan {
	stack = "sim"
	dev_eui = "0011223344556677"
	app_key = "000102030405060708090a0b0c0d0e0f"
	join_attempts = 3
	confirmed_retries = 5
	duty_cycle_percent = 1.0
	spreading_factor = 9
	sim { join_delay_ms = 500 fail_join = true }
}
session {
	tx_interval_ms = 60000
	retry_delay_ms = 1500
	port = 2
	on_async_tx_error = "retry"
}
sensor { driver = "random" seed = 7 }`,
			func(t testing.TB, c *Config) {
				assert.True(t, c.LogDebug)
				sc, err := c.SessionConfig()
				require.NoError(t, err)
				assert.Equal(t, time.Minute, sc.TxInterval)
				assert.Equal(t, 1500*time.Millisecond, sc.RetryDelay)
				assert.Equal(t, uint8(2), sc.Port)
				assert.Equal(t, uint8(5), sc.ConfirmedRetries)
				assert.Equal(t, session.AsyncTxRetry, sc.AsyncTxPolicy)
				assert.Equal(t, "0011223344556677", sc.Credentials.DevEUI.String())
				assert.Equal(t, uint8(3), sc.Credentials.JoinAttempts)
				simc := c.SimConfig()
				assert.Equal(t, 500*time.Millisecond, simc.JoinDelay)
				assert.True(t, simc.FailJoin)
				assert.Equal(t, 1.0, simc.DutyCyclePercent)
				assert.Equal(t, 9, simc.Radio.SpreadingFactor)
				assert.Equal(t, int64(7), c.SensorConfig().Seed)
			},
			"",
		},

		{"bridge", `
lorawan {
	stack = "bridge"
	bridge { mqtt_broker = "tcp://broker:1883" topic_prefix = "farm" network_timeout_sec = 5 }
}`,
			func(t testing.TB, c *Config) {
				bc := c.BridgeConfig()
				assert.Equal(t, "farm", bc.TopicPrefix)
				assert.Equal(t, 5*time.Second, bc.NetworkTimeout)
				mc := c.MQTTConfig()
				assert.Equal(t, "tcp://broker:1883", mc.Broker)
				assert.Equal(t, "loranode-00F37ECF1738F5FC", mc.ClientID)
				// default 3 publish attempts of 5s each
				assert.Equal(t, 16*time.Second, c.ShutdownTimeout())
			},
			"",
		},

		{"retries-zero", `lorawan { confirmed_retries = 0 }`, func(t testing.TB, c *Config) {
			sc, err := c.SessionConfig()
			require.NoError(t, err)
			assert.Equal(t, uint8(0), sc.ConfirmedRetries)
			assert.False(t, sc.Environment)
			assert.Equal(t, time.Duration(0), c.ShutdownTimeout())
		}, ""},

		{"environment", `session { environment = true }`, func(t testing.TB, c *Config) {
			sc, err := c.SessionConfig()
			require.NoError(t, err)
			assert.True(t, sc.Environment)
			assert.Equal(t, session.DefaultConfirmedRetries, sc.ConfirmedRetries)
		}, ""},

		{"include-normalize", `
session { port = 3 }
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "session-port-7" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 7, c.Session.Port)
			}, ""},

		{"include-overwrites", `
session { port = 1 }
include "session-port-7" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, 7, c.Session.Port)
			}, ""},

		{"include-required", `include "non-exist" {}`, nil, "config required name=non-exist path=non-exist not found"},

		{"invalid-stack", `lorawan { stack = "lmic" }`, nil, "config: lorawan.stack=lmic not valid"},
		{"invalid-bridge", `lorawan { stack = "bridge" }`, nil, "config: lorawan.bridge.mqtt_broker=empty not valid"},
		{"invalid-eui", `lorawan { dev_eui = "00F3" }`, nil, "config: lorawan.dev_eui: EUI64=00F3: length=2 expected=8 not valid"},
		{"invalid-policy", `session { on_async_tx_error = "rejoin" }`, nil, "config: on_async_tx_error=rejoin not valid"},
		{"invalid-many", `session { port = 300 payload_capacity = 51 }`, nil,
			"config: session.port=300 not valid\nconfig: session.payload_capacity=51 not valid"},
		{"invalid-retries", `lorawan { confirmed_retries = -1 }`, nil, "config: lorawan.confirmed_retries=-1 not valid"},
		{"invalid-sensor", `sensor { driver = "dht22" }`, nil, "config: sensor.driver=dht22 not valid"},
		{"syntax", `session {`, nil, ""},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			fs := NewMockFullReader(map[string]string{
				"test-inline":    c.input,
				"empty":          "",
				"session-port-7": "session { port = 7 }",
			})
			log := log2.NewTest(t, log2.LDebug)
			cfg, err := ReadConfig(log, fs, "test-inline")
			if c.name == "syntax" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "config unmarshal source=test-inline")
				return
			}
			if c.expectErr == "" {
				require.NoError(t, err, errors.ErrorStack(err))
			} else {
				require.Error(t, err)
				assert.Equal(t, c.expectErr, err.Error())
				return
			}
			if c.check != nil {
				c.check(t, cfg)
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestIncludeLoop(t *testing.T) {
	t.Parallel()

	fs := NewMockFullReader(map[string]string{
		"main": `include "a" {}`,
		"a":    `include "main" {}`,
	})
	_, err := ReadConfig(log2.NewTest(t, log2.LDebug), fs, "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config include loop")
}
