package app

import (
	"context"
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/bankupdate/cmd/bankupdated/app/options"
	"github.com/autopeer-io/bankupdate/internal/bankd/transport"
	"github.com/autopeer-io/bankupdate/pkg/app"
)

const (
	commandName = "bankupdated"
	commandDesc = `bankupdated keeps two redundant root banks on an embedded device. It answers
bank queries, writes firmware images into the bank that is not running and selects
the bank the bootloader starts next. Control clients talk to it over ZeroMQ, and
optionally over MQTT.`
)

func NewApp() *app.App {
	opts := options.NewServerOptions()
	application := app.NewApp(
		commandName,
		"Launch the dual-bank firmware update controller",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
		app.WithLoggerContextExtractor(map[string]func(context.Context) string{
			"endpoint": transport.Endpoint,
		}),
	)
	return application
}

func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		daemon, err := cfg.NewDaemon(ctx)
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		return daemon.Run(ctx)
	}
}
