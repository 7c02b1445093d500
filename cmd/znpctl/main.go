package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/znplink/internal/config"
	"github.com/danmuck/znplink/internal/link"
	"github.com/danmuck/znplink/internal/observability"
	"github.com/danmuck/znplink/internal/protocol/schema"
	"github.com/danmuck/znplink/internal/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(newApp()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "znpctl: %v\n", err)
		os.Exit(1)
	}
}

// app carries flag values and the resolved configuration between the root
// command and its subcommands.
type app struct {
	cfgFile       string
	port          string
	baud          int
	rtscts        bool
	schemaVersion string
	schemaFile    string
	timeout       time.Duration

	cfg  config.Config
	log  zerolog.Logger
	open func(transport.SerialConfig) (transport.Channel, error)
}

func newApp() *app {
	return &app{open: transport.OpenSerial}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "znpctl",
		Short:         "Talk to a Z-Stack network coprocessor over its serial link",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.log = observability.InitLogger("znpctl")
			return a.resolve(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config.toml path (defaults apply when empty)")
	flags.StringVar(&a.port, "port", "", "serial port, e.g. /dev/ttyUSB0")
	flags.IntVar(&a.baud, "baud", transport.DefaultBaud, "serial baud rate")
	flags.BoolVar(&a.rtscts, "rtscts", false, "assert RTS for hardware flow control")
	flags.StringVar(&a.schemaVersion, "schema-version", "", "builtin command table: "+fmt.Sprint(schema.BuiltinVersions()))
	flags.StringVar(&a.schemaFile, "schema-file", "", "command table file (.toml, .yaml), overrides --schema-version")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-command timeout (defaults to link.command_timeout)")

	root.AddCommand(
		newPingCmd(a),
		newVersionCmd(a),
		newIssueCmd(a),
		newListenCmd(a),
		newSchemaCmd(a),
		newServeCmd(a),
		newPortsCmd(a),
		newConfigCmd(a),
	)
	return root
}

// resolve loads the config file and applies explicitly set flags over it.
func (a *app) resolve(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.cfgFile != "" {
		loaded, err := config.Load(a.cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Serial.Port = a.port
	}
	if flags.Changed("baud") {
		cfg.Serial.Baud = a.baud
	}
	if flags.Changed("rtscts") {
		cfg.Serial.RTSCTS = a.rtscts
	}
	if flags.Changed("schema-version") {
		cfg.Schema.Version = a.schemaVersion
		cfg.Schema.File = ""
	}
	if flags.Changed("schema-file") {
		cfg.Schema.File = a.schemaFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// connect opens the serial channel and starts the link loop. The returned
// channel yields Run's result once the link is down.
func (a *app) connect(ctx context.Context) (*link.Link, <-chan error, error) {
	reg, err := selectRegistry(a)
	if err != nil {
		return nil, nil, err
	}
	ch, err := a.open(a.cfg.SerialConfig())
	if err != nil {
		return nil, nil, err
	}
	l, err := link.New(ch, reg, a.cfg.LinkConfig(), link.WithLogger(a.log))
	if err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return l, done, nil
}

func selectRegistry(a *app) (*schema.Registry, error) {
	return schema.Select(a.cfg.Schema)
}
