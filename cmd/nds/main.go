package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/jabolina/nds/pkg/nds/definition"
	"github.com/jabolina/nds/pkg/nds/metrics"
	"github.com/jabolina/nds/pkg/nds/peer"
)

// Defaults per spec.md §6's CLI surface and §6 "Multicast configuration".
const (
	defaultMulticastGroup = "239.0.0.82"
	defaultMulticastPort  = 8745
	defaultListenPort     = 31582
)

func main() {
	app := cli.NewApp()
	app.Name = "nds"
	app.Usage = "a leaderless cluster converging on a single timestamped string"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "node, n",
			Usage: "run as a resident daemon instead of an ephemeral set/get client",
		},
		cli.StringFlag{
			Name:  "join, j",
			Value: defaultMulticastGroup,
			Usage: "multicast group address",
		},
		cli.IntFlag{
			Name:  "port, p",
			Value: defaultListenPort,
			Usage: "TCP listening port",
		},
		cli.StringFlag{
			Name:  "log, l",
			Value: "console",
			Usage: "logger sink: \"console\" or a file path",
		},
		cli.StringFlag{
			Name:  "verbosity, v",
			Value: "info",
			Usage: "one of off, trace, info, warn, err",
		},
		cli.StringFlag{
			Name:  "metrics-addr, m",
			Value: "",
			Usage: "if set, expose Prometheus metrics on this address (e.g. :9090)",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	sink, err := logSink(c.String("log"))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	log := definition.NewLoggerWithSink(sink, definition.Verbosity(c.String("verbosity")))

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if addr := c.String("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Warnf("metrics server stopped: %v", err)
			}
		}()
	}

	cfg := peer.Config{
		ListenPort:     c.Int("port"),
		MulticastGroup: c.String("join"),
		MulticastPort:  defaultMulticastPort,
		Daemon:         c.Bool("node"),
	}

	args := c.Args()
	switch {
	case len(args) == 0:
		// Bare daemon invocation with no subcommand; falls through with
		// Daemon/GetMode both false only if -n was not given either, which
		// spec.md §6 does not define — treat it as a no-op node start.
	case args[0] == "set":
		if len(args) < 2 {
			return cli.NewExitError("set requires a VALUE argument", 1)
		}
		cfg.HasSetValue = true
		cfg.SetValue = strings.Join(args[1:], " ")
	case args[0] == "get":
		cfg.GetMode = true
	default:
		return cli.NewExitError(fmt.Sprintf("unknown command %q", args[0]), 1)
	}

	p, err := peer.New(cfg, log, m)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	value, err := p.Run()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	if cfg.GetMode {
		fmt.Println(value)
	}
	return nil
}

// logSink resolves the -l/--log flag into an io.Writer: "console" (the
// default) writes to stdout, anything else is treated as a file path.
func logSink(name string) (*os.File, error) {
	if name == "" || name == "console" {
		return os.Stdout, nil
	}
	return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}
