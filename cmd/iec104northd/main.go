// Copyright 2025 Ricardo L. Olsen. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Command iec104northd runs the IEC 60870-5-104 north-bound telecontrol
// gateway standalone, reading its configuration from a YAML bootstrap file
// instead of the host plugin runtime it is normally embedded in. This is
// a development/ops harness around the internal/gateway core; the
// production deployment remains embedded in the host runtime.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/riclolsen/iec104north/internal/clog"
	"github.com/riclolsen/iec104north/internal/gateway"
	"github.com/riclolsen/iec104north/internal/httpapi"
)

const component = "iec104northd"

// version is overwritten at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   component,
		Short: "IEC 60870-5-104 north-bound telecontrol gateway",
		Long:  "iec104northd serves monitored points and command points over IEC 60870-5-104 to one or more supervisory masters.",
	}
	root.SetGlobalNormalizationFunc(normalizeFlagName)
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "bootstrap configuration file")

	root.AddCommand(newStartCmd(&configFile))
	root.AddCommand(newConfigCheckCmd(&configFile))
	root.AddCommand(newVersionCmd())
	return root
}

// normalizeFlagName lets underscore spellings (--http_api_addr) resolve to
// their hyphenated forms.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(component, version)
			return nil
		},
	}
}

func newConfigCheckCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config-check",
		Short: "load and validate the bootstrap configuration without starting the listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, addr, err := loadBootstrap(*configFile)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: %d redundancy group(s), %d point(s), http api on %s\n",
				len(cfg.Protocol.RedundancyGroups), len(cfg.DataExchange.Points), addr)
			return nil
		},
	}
}

func newStartCmd(configFile *string) *cobra.Command {
	var httpAddrOverride string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the gateway and serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(*configFile, httpAddrOverride)
		},
	}
	cmd.Flags().StringVar(&httpAddrOverride, "http-api-addr", "", "override the Status API bind address from the config file")
	return cmd
}

func run(configFile, httpAddrOverride string) error {
	log := clog.NewLogger(component + " => ")
	log.LogMode(true)

	cfg, httpAddr, err := loadBootstrap(configFile)
	if err != nil {
		log.Critical("loading bootstrap config: %v", err)
		return err
	}
	if httpAddrOverride != "" {
		httpAddr = httpAddrOverride
	}

	gw := gateway.NewGateway(cfg, nil, nil)
	if err := gw.Start(nil); err != nil {
		log.Critical("starting gateway: %v", err)
		return err
	}

	api := httpapi.NewServer(gw, httpAddr)
	api.Serve()
	log.Info("status API listening on %s", httpAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = api.Shutdown(ctx)
	return gw.Stop()
}
