// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command gracht-server hosts a gracht Server over a configured UNIX-domain
// link (spec.md §6), wired through cobra/viper the way vibecli's command
// tree loads a long-running service's configuration.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"code.hybscloud.com/gracht"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile         string
	streamAddress   string
	datagramAddress string
	maxMessageSize  uint32
	serverWorkers   int
)

var rootCmd = &cobra.Command{
	Use:   "gracht-server",
	Short: "Run a gracht RPC server over local UNIX-domain sockets.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gracht-server version.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), "gracht-server (development)")
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server and block until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); falls back to GRACHT_* env vars")

	serveCmd.Flags().StringVar(&streamAddress, "stream-address", "/tmp/gracht.sock", "UNIX stream socket path ('' disables)")
	serveCmd.Flags().StringVar(&datagramAddress, "datagram-address", "", "UNIX datagram socket path ('' disables)")
	serveCmd.Flags().Uint32Var(&maxMessageSize, "max-message-size", gracht.DefaultMaxMessageSize, "maximum frame size in bytes")
	serveCmd.Flags().IntVar(&serverWorkers, "server-workers", 1, "worker pool size; 1 runs handlers inline on the reactor thread")

	rootCmd.AddCommand(versionCmd, serveCmd)
}

func loadConfig(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix("GRACHT")
	v.AutomaticEnv()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("gracht-server: reading config: %w", err)
		}
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	streamAddress = v.GetString("stream-address")
	datagramAddress = v.GetString("datagram-address")
	maxMessageSize = uint32(v.GetUint("max-message-size"))
	serverWorkers = v.GetInt("server-workers")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}

	link, err := gracht.NewUnixLink(gracht.SocketConfig{
		StreamAddress:   streamAddress,
		DatagramAddress: datagramAddress,
	}, maxMessageSize)
	if err != nil {
		return fmt.Errorf("gracht-server: creating link: %w", err)
	}

	logger := gracht.NewLogrusLogger(nil)
	metrics := gracht.NewMetrics(prometheus.DefaultRegisterer)

	srv := &gracht.Server{}
	err = srv.Init(gracht.Config{
		Link: link,
		Callbacks: gracht.Callbacks{
			OnConnect:    func(handle int) { logger.Info(fmt.Sprintf("gracht: client connected handle=%d", handle)) },
			OnDisconnect: func(handle int) { logger.Info(fmt.Sprintf("gracht: client disconnected handle=%d", handle)) },
		},
		MaxMessageSize: maxMessageSize,
		ServerWorkers:  serverWorkers,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return fmt.Errorf("gracht-server: init: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("gracht-server: shutting down")
		_ = srv.Shutdown()
	}()

	logger.Info(fmt.Sprintf("gracht-server: listening stream=%q datagram=%q workers=%d", streamAddress, datagramAddress, serverWorkers))
	return srv.Run()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
