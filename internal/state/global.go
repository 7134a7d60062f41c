package state

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/loranode/internal/lorawan"
	"github.com/temoto/loranode/internal/lorawan/bridge"
	"github.com/temoto/loranode/internal/lorawan/sim"
	"github.com/temoto/loranode/internal/sched"
	"github.com/temoto/loranode/internal/sensor"
	"github.com/temoto/loranode/internal/session"
	"github.com/temoto/loranode/log2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Log          *log2.Log
	Sched        *sched.Queue
	// test code may set Stack and Sensor before Init
	Stack   lorawan.Stack
	Sensor  sensor.Reader
	Session *session.Session

	errorCount uint32
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// Init builds stack, sensor, scheduler and session, then connects.
// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	g.Log.Infof("build version=%s", g.BuildVersion)
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}
	g.Log.SetErrorFunc(func(error) { atomic.AddUint32(&g.errorCount, 1) })

	if g.Sched == nil {
		g.Sched = sched.NewQueue(g.Log)
	}

	if g.Sensor == nil {
		s, err := sensor.New(cfg.SensorConfig())
		if err != nil {
			return errors.Annotate(err, "sensor init")
		}
		g.Sensor = s
	}

	if g.Stack == nil {
		stack, err := g.newStack()
		if err != nil {
			return errors.Annotate(err, "lorawan stack")
		}
		g.Stack = stack
	}

	sessionConfig, err := cfg.SessionConfig()
	if err != nil {
		return errors.Trace(err)
	}
	g.Session = session.New(g.Log, sessionConfig, g.Sched, g.Stack, g.Sensor)
	return errors.Annotate(g.Session.Connect(), "session")
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Fatal(err)
	}
}

func (g *Global) newStack() (lorawan.Stack, error) {
	cfg := g.Config
	switch cfg.Lorawan.Stack {
	case "", "sim":
		simLog := g.Log.Clone(log2.LInfo)
		if cfg.Lorawan.Sim.LogDebug {
			simLog.SetLevel(log2.LDebug)
		}
		return sim.New(simLog, cfg.SimConfig()), nil

	case "bridge":
		// broker gets g.Log clone before SetErrorFunc affects it, mqtt noise is not counted
		broker, err := bridge.NewMQTTBroker(g.Log.Clone(log2.LInfo), cfg.MQTTConfig())
		if err != nil {
			return nil, err
		}
		return bridge.New(g.Log, cfg.BridgeConfig(), broker), nil

	default:
		return nil, errors.NotSupportedf("lorawan.stack=%s", cfg.Lorawan.Stack)
	}
}

// Run dispatches session events until Disconnected, signal or ctx done.
func (g *Global) Run(ctx context.Context) error {
	if !g.Alive.Add(1) {
		return errors.Errorf("global stopped")
	}
	defer g.Alive.Done()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	stopch := g.Alive.StopChan()
	go func() {
		select {
		case sig := <-sigs:
			g.Log.Infof("signal=%v, disconnecting", sig)
			g.Shutdown()
		case <-stopch:
			g.Shutdown()
		case <-g.Sched.StopChan():
		}
	}()

	err := g.Sched.RunForever(ctx)
	if err == context.Canceled {
		err = nil
	}
	if e := g.Sensor.Close(); e != nil {
		g.Error(e, "sensor close")
	}
	g.Log.Infof("stopped errors=%d", g.ErrorCount())
	return errors.Trace(err)
}

// Shutdown gracefully disconnects session, Disconnected event halts dispatch.
// Stack may finish teardown in background, so dispatch is halted directly
// after Config.ShutdownTimeout or right away when session was not connected.
func (g *Global) Shutdown() {
	g.Sched.Call(func() {
		var timeout time.Duration
		switch g.Session.State() {
		case session.StateConnecting, session.StateConnected:
			timeout = g.Config.ShutdownTimeout()
		}
		if err := g.Session.Disconnect(); err != nil {
			g.Error(err)
		}
		g.Sched.CallAfter(timeout, func() {
			if g.Session.State() != session.StateTerminated {
				g.Log.Errorf("shutdown timeout=%s state=%s, stop dispatch", timeout, g.Session.State())
				g.Sched.Stop()
			}
		})
	})
}

func (g *Global) ErrorCount() uint32 { return atomic.LoadUint32(&g.errorCount) }

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}
