package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/loranode/cmd/loranode/console"
	"github.com/temoto/loranode/cmd/loranode/run"
	"github.com/temoto/loranode/cmd/loranode/subcmd"
	"github.com/temoto/loranode/internal/state"
	"github.com/temoto/loranode/log2"
)

var log = log2.NewStderr(log2.LDebug)

var modules = []subcmd.Mod{
	run.Mod,
	console.Mod,
	{Name: "version", Main: versionMain},
}

var BuildVersion string = "unknown" // set by ldflags -X

func main() {
	flagset := flag.NewFlagSet("loranode", flag.ContinueOnError)
	flagConfig := flagset.String("config", "loranode.hcl", "")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: %s [options] command\n\nOptions:\n", flagset.Name())
		flagset.PrintDefaults()
		fmt.Fprintf(flagset.Output(), "\nCommands:\n")
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %s\n", m.Name)
		}
	}
	if err := flagset.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(err)
	}

	command := flagset.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flagset.Usage()
		log.Fatal(err)
	}

	if mod.Name == run.Mod.Name && subcmd.SdNotify("start") {
		// under systemd, journal adds timestamps
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	if mod.Name == "version" {
		if err := mod.Main(ctx, nil); err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		return
	}

	fs := state.NewOsFullReader()
	config, err := state.ReadConfig(log, fs, *flagConfig)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	log.Debugf("config=%+v", config)

	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func versionMain(ctx context.Context, _ *state.Config) error {
	fmt.Printf("loranode %s\n", state.GetGlobal(ctx).BuildVersion)
	return nil
}
