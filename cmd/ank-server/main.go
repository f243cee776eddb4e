package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eclipse-ankaios/ankaios-go/pkg/config"
	grpcmw "github.com/eclipse-ankaios/ankaios-go/pkg/grpc"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/metrics"
	"github.com/eclipse-ankaios/ankaios-go/pkg/runtime"
	"github.com/eclipse-ankaios/ankaios-go/pkg/server"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ank-server",
	Short: "Ankaios server - holds the desired state and drives the agents",
	Long: `The Ankaios server is the single authoritative holder of the desired
workload state. It accepts state updates from CLIs and workloads,
computes per-agent deltas and fans the resulting commands out to the
connected agents.

Desired state is not persisted; on restart the server reloads it from
the startup manifest.`,
	Version: Version,
	RunE:    runServer,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ank-server version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.Flags()
	flags.String("address", "127.0.0.1:25551", "Listen address")
	flags.StringP("startup-manifest", "m", "", "Manifest file applied as initial desired state")
	flags.BoolP("insecure", "k", false, "Serve plain text instead of mTLS")
	flags.String("ca-pem", "", "CA certificate for verifying agents and CLIs")
	flags.String("crt-pem", "", "Server certificate")
	flags.String("key-pem", "", "Server private key")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("metrics-address", "", "Expose prometheus metrics on this address (empty = off)")
	flags.String("config", "", "Configuration file")
}

func runServer(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	v, err := config.New(configFile)
	if err != nil {
		return err
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.LoadServer(v)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel)})
	logger := log.WithComponent("main")

	core := server.New([]string{runtime.PodmanRuntimeName, runtime.ContainerdRuntimeName})
	core.Start()

	if cfg.StartupManifest != "" {
		if err := core.LoadStartupManifest(cfg.StartupManifest); err != nil {
			core.Stop()
			return err
		}
		logger.Info().Str("manifest", cfg.StartupManifest).Msg("startup manifest applied")
	}

	transport, err := buildTransport(core, cfg)
	if err != nil {
		core.Stop()
		return err
	}

	if cfg.MetricsAddress != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddress); err != nil {
				logger.Warn().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := transport.Start(cfg.Address); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("transport failed")
	}

	transport.Stop()
	core.Stop()
	return nil
}

func buildTransport(core *server.Server, cfg config.Server) (*grpcmw.Transport, error) {
	if cfg.TLS.Insecure {
		return grpcmw.NewTransport(core, nil), nil
	}
	tlsConfig, err := grpcmw.ServerTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("TLS setup failed (use --insecure to disable): %w", err)
	}
	return grpcmw.NewTransport(core, tlsConfig), nil
}
