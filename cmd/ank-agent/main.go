package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eclipse-ankaios/ankaios-go/pkg/agent"
	"github.com/eclipse-ankaios/ankaios-go/pkg/api"
	"github.com/eclipse-ankaios/ankaios-go/pkg/config"
	"github.com/eclipse-ankaios/ankaios-go/pkg/controlinterface"
	grpcmw "github.com/eclipse-ankaios/ankaios-go/pkg/grpc"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
	"github.com/eclipse-ankaios/ankaios-go/pkg/runtime"
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
	Use:   "ank-agent",
	Short: "Ankaios agent - runs workloads on one node",
	Long: `The Ankaios agent connects to the server, receives the workloads
assigned to its name and drives each of them through a private control
loop against the local container runtime.`,
	Version: Version,
	RunE:    runAgent,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ank-agent version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.Flags()
	flags.String("name", "", "Agent name (with mTLS the certificate CN wins)")
	flags.String("server-url", "127.0.0.1:25551", "Server address")
	flags.String("run-folder", "/tmp/ankaios", "Base directory for control interface pipes")
	flags.String("podman-binary", "podman", "Podman binary")
	flags.String("containerd-socket", "", "Containerd socket (empty = podman only)")
	flags.Int("retry-limit", agent.DefaultRetryLimit, "Create attempts per workload before giving up")
	flags.Duration("retry-interval", agent.DefaultRetryInterval, "Delay between create attempts")
	flags.BoolP("insecure", "k", false, "Connect plain text instead of mTLS")
	flags.String("ca-pem", "", "CA certificate for verifying the server")
	flags.String("crt-pem", "", "Agent certificate (CN = agent name)")
	flags.String("key-pem", "", "Agent private key")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("config", "", "Configuration file")
}

func runAgent(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	v, err := config.New(configFile)
	if err != nil {
		return err
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.LoadAgent(v)
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel)})
	logger := log.WithAgent(cfg.Name)

	registry := runtime.NewRegistry()
	if err := registry.Register(runtime.NewPodmanRuntime(cfg.PodmanBinary, 0)); err != nil {
		return err
	}
	if cfg.ContainerdSock != "" {
		containerdRT, err := runtime.NewContainerdRuntime(cfg.ContainerdSock, 0)
		if err != nil {
			return fmt.Errorf("containerd runtime unavailable: %w", err)
		}
		defer containerdRT.Close()
		if err := registry.Register(containerdRT); err != nil {
			return err
		}
	}

	manager := agent.NewManager(agent.Config{
		Name:          cfg.Name,
		RetryLimit:    cfg.RetryLimit,
		RetryInterval: cfg.RetryInterval,
	}, registry)

	sessions := controlinterface.NewRegistry(cfg.RunFolder, func(ctx context.Context, req *api.Request) *api.Response {
		return manager.SubmitRequest(ctx, req)
	})
	manager.SetSessionManager(sessions)
	manager.SetStateDeltaSink(sessions.PushStates)

	var tlsConfig *tls.Config
	if !cfg.TLS.Insecure {
		tlsConfig, err = grpcmw.ClientTLSConfig(cfg.TLS)
		if err != nil {
			return fmt.Errorf("TLS setup failed (use --insecure to disable): %w", err)
		}
	}
	connector := &grpcmw.Connector{Target: cfg.ServerURL, TLSConfig: tlsConfig}
	connection := agent.NewConnection(cfg.Name, connector, manager)

	ctx, cancel := context.WithCancel(context.Background())
	manager.Start(ctx)
	go connection.Run(ctx)

	logger.Info().Str("server", cfg.ServerURL).Msg("agent started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")

	// Release in reverse order of acquisition: stream first, then the
	// control loops, then the sessions.
	cancel()
	manager.Stop()
	sessions.Shutdown()
	return nil
}
