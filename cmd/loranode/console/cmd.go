// Interactive mode on simulated network: periodic reporting runs as usual,
// commands play the network side and inspect session.
package console

import (
	"context"
	"fmt"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/loranode/cmd/loranode/subcmd"
	"github.com/temoto/loranode/helpers"
	"github.com/temoto/loranode/helpers/cli"
	"github.com/temoto/loranode/internal/lorawan"
	"github.com/temoto/loranode/internal/lorawan/sim"
	"github.com/temoto/loranode/internal/lpp"
	"github.com/temoto/loranode/internal/state"
)

var Mod = subcmd.Mod{Name: "console", Main: Main}

var commands = []prompt.Suggest{
	{Text: "help", Description: "show this text"},
	{Text: "send", Description: "read sensor and send uplink now"},
	{Text: "uplink", Description: "network asks for uplink"},
	{Text: "rx", Description: "HEX [pending] deliver downlink on session port"},
	{Text: "rxerror", Description: "corrupted downlink window"},
	{Text: "txfail", Description: "EVENT next uplink ends with TxTimeout|TxError|TxCryptoError|TxSchedulingError"},
	{Text: "decode", Description: "HEX decode Cayenne LPP payload"},
	{Text: "stat", Description: "session and scheduler counters"},
	{Text: "disconnect", Description: "graceful disconnect and exit"},
}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	if config.Lorawan.Stack != "" && config.Lorawan.Stack != "sim" {
		g.Log.Infof("console overrides lorawan.stack=%s with sim", config.Lorawan.Stack)
	}
	config.Lorawan.Stack = "sim"
	if err := g.Init(ctx, config); err != nil {
		return errors.Annotate(err, "init")
	}
	c, err := New(g)
	if err != nil {
		return err
	}
	g.Log.Info(Usage())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() {
		runErr <- g.Run(ctx)
		cancel()
	}()

	if err := cli.MainLoop(ctx, "loranode", c.Exec, cli.FilterSuggest(commands)); err != nil && err != context.Canceled {
		g.Error(err, "console input")
	}
	// input ended before disconnect command
	g.Shutdown()
	return <-runErr
}

type Console struct {
	g   *state.Global
	sim *sim.Stack
}

func New(g *state.Global) (*Console, error) {
	s, ok := g.Stack.(*sim.Stack)
	if !ok {
		return nil, errors.NotSupportedf("console on stack=%T", g.Stack)
	}
	return &Console{g: g, sim: s}, nil
}

func Usage() string {
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "- %-10s %s\n", c.Text, c.Description)
	}
	return b.String()
}

func (self *Console) Exec(line string) {
	if err := self.Do(line); err != nil {
		self.g.Log.Error(errors.ErrorStack(err))
	}
}

// Do executes one command line. Session is touched only from scheduler callbacks.
func (self *Console) Do(line string) error {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}
	g := self.g
	args := words[1:]
	switch words[0] {
	case "help", "?":
		g.Log.Info(Usage())

	case "send":
		g.Sched.Call(g.Session.Send)

	case "uplink":
		self.sim.RequestUplink()

	case "rx":
		pending := false
		if len(args) > 0 && args[len(args)-1] == "pending" {
			pending = true
			args = args[:len(args)-1]
		}
		if len(args) == 0 {
			return errors.NotValidf("rx without payload")
		}
		data, err := helpers.ParseHexLoose(strings.Join(args, ""))
		if err != nil {
			return errors.Annotate(err, "rx")
		}
		return self.sim.InjectDownlink(g.Session.Config().Port, data, pending)

	case "rxerror":
		self.sim.RxError()

	case "txfail":
		if len(args) != 1 {
			return errors.NotValidf("txfail expects one event")
		}
		ev, err := ParseTxFailure(args[0])
		if err != nil {
			return err
		}
		self.sim.FailNextTx(ev)

	case "decode":
		data, err := helpers.ParseHexLoose(strings.Join(args, ""))
		if err != nil {
			return errors.Annotate(err, "decode")
		}
		fields, err := lpp.Decode(data)
		for _, f := range fields {
			g.Log.Infof("%s", f)
		}
		return errors.Annotate(err, "decode")

	case "stat":
		g.Sched.Call(func() {
			g.Log.Infof("session state=%s %s", g.Session.State(), g.Session.Stat())
			g.Log.Infof("scheduler %+v pending=%d uplinks=%d", g.Sched.Stat(), g.Sched.Len(), len(self.sim.Uplinks()))
		})

	case "disconnect":
		g.Shutdown()

	default:
		return errors.NotSupportedf("command=%s", words[0])
	}
	return nil
}

// ParseTxFailure accepts asynchronous send failure event name, case insensitive.
func ParseTxFailure(s string) (lorawan.Event, error) {
	for ev := lorawan.EventTxTimeout; ev <= lorawan.EventTxSchedulingError; ev++ {
		if ev.IsTxFailure() && strings.EqualFold(s, ev.String()) {
			return ev, nil
		}
	}
	return lorawan.EventInvalid, errors.NotValidf("tx failure event=%s", s)
}
