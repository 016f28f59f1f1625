package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	arke "github.com/Arke-Institute/arke-ipfs-api-sub001"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/api"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/repl"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/utils"
)

var (
	dataDir string
	debug   bool
)

func logger() utils.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return utils.NewDefaultLogger(level)
}

func openStore(network aid.Network, log utils.Logger, reg prometheus.Registerer) (*arke.Store, error) {
	return arke.OpenPebble(filepath.Join(dataDir, string(network)), arke.Options{
		Network: network,
		Logger:  log,
		Metrics: reg,
	})
}

var rootCmd = &cobra.Command{
	Use:   "arke",
	Short: "Versioned, content-addressed entity store",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the entity store over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		log := logger()
		registry := prometheus.NewRegistry()

		mainStore, err := openStore(aid.Main, log, registry)
		if err != nil {
			return err
		}
		defer func() { _ = mainStore.Close() }()
		testStore, err := openStore(aid.Test, log, nil)
		if err != nil {
			return err
		}
		defer func() { _ = testStore.Close() }()

		srv := api.NewServer(mainStore, testStore, log, registry)
		log.Info("serving", "addr", addr, "dir", dataDir)
		return http.ListenAndServe(addr, srv)
	},
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Open the store console",
	RunE: func(cmd *cobra.Command, args []string) error {
		networkFlag, _ := cmd.Flags().GetString("network")
		network, err := aid.ParseNetwork(networkFlag)
		if err != nil {
			return err
		}
		store, err := openStore(network, logger(), nil)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		console := repl.REPL{Store: store}
		if err = console.Open(); err != nil {
			return err
		}
		defer func() { _ = console.Close() }()

		ctx := context.Background()
		for {
			err = console.REPL(ctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				cmd.PrintErrln(err.Error())
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "dir", "arke-data", "data directory")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")
	serveCmd.Flags().String("addr", ":8044", "listen address")
	replCmd.Flags().String("network", "main", "logical network (main|test)")
	rootCmd.AddCommand(serveCmd, replCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
