package state

import (
	"context"
	"os"
	"testing"

	"github.com/temoto/loranode/internal/lorawan"
	"github.com/temoto/loranode/internal/sensor"
	"github.com/temoto/loranode/log2"
)

// NewTestContext returns initialized Global with mock stack and fixed sensor reading.
func NewTestContext(t testing.TB, confString string) (context.Context, *Global, *lorawan.Mock) {
	fs := NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	var log *log2.Log
	if os.Getenv("loranode_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	stack := lorawan.NewMock()
	g.Stack = stack
	g.Sensor = &sensor.Fixed{Value: 22.5}
	g.MustInit(ctx, MustReadConfig(log, fs, "test-inline"))
	return ctx, g, stack
}
