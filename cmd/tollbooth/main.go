package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/FlechetteLabs/Tollbooth/control"
	"github.com/FlechetteLabs/Tollbooth/log"
	"github.com/FlechetteLabs/Tollbooth/option"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
)

func main() {
	command := &cobra.Command{
		Use:   "tollbooth",
		Short: "Control layer for the Tollbooth traffic-interception proxy",
		RunE:  run,
	}
	command.Flags().StringVarP(&configPath, "config", "c", "", "configuration file path")
	command.Flags().BoolVarP(&debug, "debug", "D", false, "enable debug logging")
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func readOptions() (option.Options, error) {
	var options option.Options
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return option.Options{}, E.Cause(err, "read configuration at ", configPath)
		}
		err = json.Unmarshal(content, &options)
		if err != nil {
			return option.Options{}, E.Cause(err, "decode configuration at ", configPath)
		}
	}
	if options.Control.BackendURL == "" {
		options.Control.BackendURL = os.Getenv("BACKEND_WS_URL")
	}
	if options.Control.BackendURL == "" {
		options.Control.BackendURL = "ws://backend:3001"
	}
	if options.Control.MaxBodySize == 0 {
		if value, err := strconv.Atoi(os.Getenv("MAX_BODY_SIZE")); err == nil {
			options.Control.MaxBodySize = value
		}
	}
	return options, nil
}

func run(cmd *cobra.Command, args []string) error {
	options, err := readOptions()
	if err != nil {
		return err
	}
	logger := log.NewLogger("control", debug || options.Control.Debug)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service, err := control.NewService(ctx, logger, nil, options.Control)
	if err != nil {
		return err
	}
	err = service.Start()
	if err != nil {
		return err
	}
	defer service.Close()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	<-signals
	logger.Info("shutting down")
	return nil
}
