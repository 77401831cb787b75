// Command unatd is a transparent TCP proxy: it accepts connections
// redirected to it by the host's packet filter, recovers each one's
// original destination, and relays bytes to a matching upstream
// connection opened from a non-local source address.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/run"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/alsterg/unatd/internal/config"
	"github.com/alsterg/unatd/internal/netaddr"
	"github.com/alsterg/unatd/internal/proxy"
)

func main() {
	app := cli.NewApp()
	app.Name = "unatd"
	app.Usage = "transparent TCP proxy"
	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "p",
			Value: config.DefaultPort,
			Usage: "listening TCP port",
		},
		cli.StringFlag{
			Name:  "n",
			Value: "",
			Usage: "enable SNAT mode, using the IPv4 address of this interface as the upstream source",
		},
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable trace-level logging",
		},
	}
	// spec.md §6: extra positional arguments are an argument error.
	app.Action = func(c *cli.Context) error {
		if c.NArg() > 0 {
			fmt.Fprintln(os.Stderr, "unatd: superfluous arguments")
			os.Exit(1)
		}
		return runProxy(c)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "unatd: %v\n", err)
		os.Exit(1)
	}
}

func runProxy(c *cli.Context) error {
	cfg := &config.Config{
		Port:    c.Int("p"),
		Verbose: c.Bool("v"),
	}
	if iface := c.String("n"); iface != "" {
		addr, err := netaddr.InterfaceIPv4Addr(iface)
		if err != nil {
			return fmt.Errorf("resolving SNAT interface: %w", err)
		}
		cfg.SNATEnabled = true
		cfg.SNATInterface = iface
		cfg.SNATAddr = addr
	}

	log := logrus.New()
	if cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if cfg.SNATEnabled {
		log.WithFields(logrus.Fields{
			"interface": cfg.SNATInterface,
			"addr":      netaddr.Format(cfg.SNATAddr),
		}).Info("SNAT mode enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := proxy.NewListener(ctx, cfg, log)
	if err != nil {
		// Startup-fatal per spec.md §7 taxonomy #1.
		return err
	}

	var g run.Group
	{
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case s := <-sig:
				log.WithField("signal", s).Info("shutting down")
			case <-ctx.Done():
			}
			return nil
		}, func(error) {
			cancel()
			signal.Stop(sig)
			close(sig)
		})
	}
	{
		g.Add(func() error {
			return ln.Serve(ctx)
		}, func(error) {
			cancel()
			ln.Close()
		})
	}

	return g.Run()
}
