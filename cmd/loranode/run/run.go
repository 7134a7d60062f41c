// Main, unattended mode of operation: connect, report periodically, stop on signal.
package run

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/loranode/cmd/loranode/subcmd"
	"github.com/temoto/loranode/internal/state"
)

var Mod = subcmd.Mod{Name: "run", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	if err := g.Init(ctx, config); err != nil {
		return errors.Annotate(err, "init")
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Debugf("init complete stack=%s", config.Lorawan.Stack)

	err := g.Run(ctx)
	subcmd.SdNotify(daemon.SdNotifyStopping)
	g.Log.Infof("session %s", g.Session.Stat())
	return err
}
