package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/hmcalister/wavetrim/internal/audioapi"
	"github.com/hmcalister/wavetrim/internal/audioapi/malgoapi"
	"github.com/hmcalister/wavetrim/internal/config"
)

type command struct {
	name  string
	usage string
	run   func(a *app, args []string) error
}

var commands = []command{
	{"devices", "list capture devices, loopback first", runDevices},
	{"record", "[-device name] [-duration d] [-headless] [-monitor]  record from a device", runRecord},
	{"trim", "-in f [-start d] [-end d] [-normalize] [-gain dB] [-out f]  save a region of a file", runTrim},
	{"normalize", "-in f [-out f]  save a copy peaking at -1 dBFS", runNormalize},
	{"gain", "-in f -db x [-out f]  save a copy with gain applied", runGain},
	{"edit", "-in f  trim a file interactively", runEdit},
	{"play", "-in f [-start d] [-end d] [-loop] [-volume dB]  play a region of a file", runPlay},
	{"list", "[-limit n]  list recent recordings in the save directory", runList},
	{"settings", "[key=value ...]  show or change settings", runSettings},
	{"info", "-in f  describe an audio file", runInfo},
}

// Shared by every command. The audio device API is only opened by commands
// that need hardware.
type app struct {
	store *config.Store
	api   *malgoapi.MalgoAPI
}

func (a *app) audioAPI() (audioapi.AudioIODeviceAPI, error) {
	if a.api != nil {
		return a.api, nil
	}
	api, err := malgoapi.NewMalgoAPI()
	if err != nil {
		slog.Error("could not open audio backend", "err", err)
		return nil, err
	}
	a.api = api
	return api, nil
}

func (a *app) Close() error {
	if a.api == nil {
		return nil
	}
	return a.api.Close()
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [-config path] <command> [flags]\n\nCommands:\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(out, "  %-10s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(out, "\nFlags:")
	flag.PrintDefaults()
}

func main() {
	configFilePath := flag.String("config", config.DefaultConfigFilePath(), "Set the file path to the settings file.")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == flag.Arg(0) {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}

	store, err := config.LoadConfig(*configFilePath)
	if err != nil {
		slog.Error("error while loading config", "err", err)
		os.Exit(1)
	}
	logFilePointer, err := config.ConfigureDefaultLogger(store.LogLevel(), store.LogFile(), slog.HandlerOptions{})
	if err != nil {
		slog.Error("error while configuring default logger", "err", err)
		os.Exit(1)
	}

	// --------------------------------------------------------------------------------

	a := &app{store: store}
	runErr := cmd.run(a, flag.Args()[1:])
	if err := a.Close(); err != nil {
		slog.Warn("error while closing audio backend", "err", err)
	}
	if logFilePointer != nil {
		logFilePointer.Close()
	}

	switch {
	case errors.Is(runErr, flag.ErrHelp):
	case runErr != nil:
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd.name, runErr)
		os.Exit(1)
	}
}
