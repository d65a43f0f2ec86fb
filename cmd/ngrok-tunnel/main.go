package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/nkconnor/ngrok"
)

func main() {
	if err := rootCmd().Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func rootCmd() *cli.Command {
	return &cli.Command{
		Name:  "ngrok-tunnel",
		Usage: "Expose a local port through ngrok and print its public URL",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "log",
				Usage: "Log level: debug, info, warn, error",
				Value: "info",
			},
		}, sessionFlags()...),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level, err := log.ParseLevel(cmd.String("log"))
			if err != nil {
				return ctx, err
			}
			log.SetLevel(level)
			return ctx, nil
		},
		Action: run,
	}
}

func sessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML file with ngrok session settings",
		},
		&cli.StringFlag{
			Name:  "executable",
			Usage: "ngrok binary (looked up on $PATH when bare)",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Local port to expose",
		},
		&cli.StringFlag{
			Name:  "status-url",
			Usage: "ngrok status API tunnel listing",
		},
		&cli.DurationFlag{
			Name:  "startup-wait",
			Usage: "Delay before the first status query",
		},
		&cli.DurationFlag{
			Name:  "wait-timeout",
			Usage: "How long to poll the status API before giving up",
		},
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Logger = log.Default()

	sess, err := ngrok.Start(cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tun, err := sess.Tunnel(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Writer, tun.HTTP())
	if tun.HTTPS().String() != tun.HTTP().String() {
		fmt.Fprintln(cmd.Writer, tun.HTTPS())
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down", "session", sess.ID())
		return nil
	case <-sess.Done():
		return sess.Status()
	}
}

// loadConfig reads --config and lets explicitly set flags override it.
func loadConfig(cmd *cli.Command) (ngrok.Config, error) {
	cfg := ngrok.DefaultConfig()
	if path := cmd.String("config"); path != "" {
		var err error
		if cfg, err = ngrok.LoadConfigFile(path); err != nil {
			return cfg, err
		}
	}
	if cmd.IsSet("executable") {
		cfg.Executable = cmd.String("executable")
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	if cmd.IsSet("status-url") {
		cfg.StatusURL = cmd.String("status-url")
	}
	if cmd.IsSet("startup-wait") {
		cfg.StartupWait = cmd.Duration("startup-wait")
	}
	if cmd.IsSet("wait-timeout") {
		cfg.WaitTimeout = cmd.Duration("wait-timeout")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
