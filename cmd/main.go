package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"io"
	"os"
	"os/signal"
	"relay/boot/publisher"
	"relay/boot/server"
	"relay/boot/subscriber"
	"relay/env"
	"relay/internals/keystore"
	"relay/internals/models"
	"relay/services/relayclient"
	"syscall"
	"time"
)

func main() {
	var app *cli.App = &cli.App{
		Name:  "relay",
		Usage: "self-hosted notification relay",
		Commands: []*cli.Command{
			serveCommand(),
			genkeyCommand(),
			sendCommand(),
			deleteCommand(),
			tailCommand(),
			pingCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string, jsonFormat bool, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.Out = out
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	if jsonFormat {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the relay server",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Usage: "HTTP port (overrides RELAY_PORT)"},
			&cli.IntFlag{Name: "grpc-port", Usage: "gRPC port, 0 disables (overrides RELAY_GRPC_PORT)"},
			&cli.StringFlag{Name: "data-dir", Usage: "directory for the key and messages files"},
			&cli.StringFlag{Name: "store", Usage: "message store backend: file or redis"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := env.ReadRelayConfig()
			if err != nil {
				return fmt.Errorf("could not parse env: %w", err)
			}
			if c.IsSet("port") {
				cfg.Port = c.Int("port")
			}
			if c.IsSet("grpc-port") {
				cfg.GrpcPort = c.Int("grpc-port")
			}
			if c.IsSet("data-dir") {
				cfg.DataDir = c.String("data-dir")
			}
			if c.IsSet("store") {
				cfg.Store = c.String("store")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := newLogger(cfg.LogLevel, cfg.IsDeployment(), os.Stdout)
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("initializing application")
			relay, err := server.New(ctx, cfg, logger)
			if err != nil {
				logger.Fatalf("cannot start relay: %v", err)
			}
			return relay.Run(ctx)
		},
	}
}

func genkeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "genkey",
		Usage: "create the key file if it does not exist and print the key",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key-file", Usage: "path of the key file"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("key-file")
			if path == "" {
				cfg, err := env.ReadRelayConfig()
				if err != nil {
					return err
				}
				path = cfg.KeyPath()
			}
			key, created, err := keystore.New(path).EnsureKey()
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(c.App.ErrWriter, "generated a new 256-bit key in %s\n", path)
			}
			fmt.Fprintln(c.App.Writer, key)
			return nil
		},
	}
}

func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{Name: "host", Usage: "relay base URL, repeat for failover (overrides RELAY_KNOWN_HOSTS)"},
		&cli.StringFlag{Name: "key", Usage: "api key (overrides RELAY_API_KEY)"},
		&cli.StringFlag{Name: "key-file", Usage: "read the api key from this file"},
		&cli.BoolFlag{Name: "download-key", Usage: "fetch the key from the server's bootstrap route"},
		&cli.StringFlag{Name: "log-level", Value: "info"},
	}
}

// newClient builds a connected client from flags and RELAY_* variables.
func newClient(c *cli.Context) (*relayclient.Client, *env.ClientConfig, error) {
	cfg, err := env.ReadClientConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse env: %w", err)
	}
	if hosts := c.StringSlice("host"); len(hosts) > 0 {
		cfg.KnownHosts = hosts
	}
	if c.IsSet("key") {
		cfg.ApiKey = c.String("key")
	}
	if c.IsSet("key-file") {
		cfg.KeyFile = c.String("key-file")
	}
	if cfg.ApiKey == "" && cfg.KeyFile != "" {
		key, err := keystore.New(cfg.KeyFile).CurrentKey()
		if err != nil {
			return nil, nil, err
		}
		cfg.ApiKey = key
	}

	client := relayclient.NewClient(cfg.KnownHosts, cfg.ApiKey)
	if err := client.Connect(c.Context); err != nil {
		return nil, nil, err
	}
	if c.Bool("download-key") {
		key, err := client.DownloadKey(c.Context)
		if err != nil {
			return nil, nil, fmt.Errorf("download key: %w", err)
		}
		cfg.ApiKey = key
		client.SetAPIKey(key)
	}
	if cfg.ApiKey == "" {
		return nil, nil, errors.New("no api key: use --key, --key-file, --download-key or RELAY_API_KEY")
	}
	return client, cfg, nil
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "publish a message",
		Flags: append(clientFlags(),
			&cli.IntFlag{Name: "level", Value: int(models.LevelInfo), Usage: "0=info 1=debug 2=warning 3=error"},
			&cli.StringFlag{Name: "title", Required: true},
			&cli.StringFlag{Name: "content", Required: true},
			&cli.IntFlag{Name: "count", Value: 1},
			&cli.DurationFlag{Name: "interval", Value: 5 * time.Second},
		),
		Action: func(c *cli.Context) error {
			logger := newLogger(c.String("log-level"), false, os.Stderr)
			client, _, err := newClient(c)
			if err != nil {
				return err
			}
			sent, err := publisher.Run(c.Context, client, models.Draft{
				Level:   models.Level(c.Int("level")),
				Title:   c.String("title"),
				Content: c.String("content"),
			}, publisher.Options{Count: c.Int("count"), Interval: c.Duration("interval")}, logger)
			enc := json.NewEncoder(c.App.Writer)
			for _, msg := range sent {
				enc.Encode(msg)
			}
			return err
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "delete one message, or all of them with --all",
		Flags: append(clientFlags(),
			&cli.Int64Flag{Name: "id"},
			&cli.Int64Flag{Name: "nonce", Usage: "address the message by nonce instead of id"},
			&cli.Int64Flag{Name: "timestamp"},
			&cli.BoolFlag{Name: "all"},
		),
		Action: func(c *cli.Context) error {
			ref := models.MessageRef{
				Id:        c.Int64("id"),
				Nonce:     c.Int64("nonce"),
				Timestamp: c.Int64("timestamp"),
				ByNonce:   c.IsSet("nonce"),
			}
			if c.Bool("all") {
				ref = models.MessageRef{}
			} else if ref.IsWipe() {
				return errors.New("refusing to wipe the store without --all")
			}
			client, _, err := newClient(c)
			if err != nil {
				return err
			}
			removed, err := client.Delete(c.Context, ref)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%d message(s) deleted\n", removed)
			return nil
		},
	}
}

func tailCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail",
		Usage: "print stored messages, then follow new ones live",
		Flags: append(clientFlags(),
			&cli.StringFlag{Name: "transport", Value: subscriber.TransportWebSocket, Usage: "ws or grpc"},
			&cli.StringFlag{Name: "grpc-host", Usage: "gRPC address (overrides RELAY_GRPC_HOST)"},
			&cli.Int64Flag{Name: "since", Usage: "only messages newer than this epoch-millis timestamp"},
			&cli.DurationFlag{Name: "reconnect", Value: 5 * time.Second},
		),
		Action: func(c *cli.Context) error {
			logger := newLogger(c.String("log-level"), false, os.Stderr)
			client, cfg, err := newClient(c)
			if err != nil {
				return err
			}
			grpcHost := cfg.GrpcHost
			if c.IsSet("grpc-host") {
				grpcHost = c.String("grpc-host")
			}
			var since *int64
			if c.IsSet("since") {
				v := c.Int64("since")
				since = &v
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(c.App.Writer)
			return subscriber.Tail(ctx, client, subscriber.Options{
				Transport:      c.String("transport"),
				GrpcHost:       grpcHost,
				APIKey:         cfg.ApiKey,
				Since:          since,
				ReconnectDelay: c.Duration("reconnect"),
				Handle: func(evt models.Event) error {
					return enc.Encode(evt)
				},
			}, logger)
		},
	}
}

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "check which known relay node answers",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "host"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := env.ReadClientConfig()
			if err != nil {
				return err
			}
			if hosts := c.StringSlice("host"); len(hosts) > 0 {
				cfg.KnownHosts = hosts
			}
			client := relayclient.NewClient(cfg.KnownHosts, "")
			ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
			defer cancel()
			if err := client.Connect(ctx); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s is active\n", client.CurrentNode)
			return nil
		},
	}
}
