package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eclipse-ankaios/ankaios-go/pkg/client"
	"github.com/eclipse-ankaios/ankaios-go/pkg/config"
	"github.com/eclipse-ankaios/ankaios-go/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes of the CLI.
const (
	exitOK         = 0
	exitUsage      = 1
	exitServer     = 2
	exitValidation = 3
)

func main() {
	log.Init(log.Config{Level: log.ErrorLevel})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the CLI exit code contract: 1 usage,
// 2 server error, 3 validation rejection.
func exitCodeFor(err error) int {
	var serverErr *client.ServerError
	if errors.As(err, &serverErr) {
		if strings.HasPrefix(serverErr.Message, "invalid desired state") {
			return exitValidation
		}
		return exitServer
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		return exitUsage
	}
	return exitServer
}

// usageError marks argument problems detected after cobra's own
// parsing.
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

var rootCmd = &cobra.Command{
	Use:   "ank",
	Short: "Ankaios CLI - manage the cluster's desired state",
	Long: `ank talks to the Ankaios server: read the current state, apply
manifests and run or delete single workloads.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ank version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	pf := rootCmd.PersistentFlags()
	pf.StringP("server-url", "s", "127.0.0.1:25551", "Server address")
	pf.BoolP("insecure", "k", false, "Connect plain text instead of mTLS")
	pf.String("ca-pem", "", "CA certificate for verifying the server")
	pf.String("crt-pem", "", "Client certificate")
	pf.String("key-pem", "", "Client private key")
	pf.Duration("timeout", 0, "Request timeout")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(applyCmd)
}

// buildClient resolves configuration (flag > ANK_* env > default) and
// connects.
func buildClient(cmd *cobra.Command) (*client.Client, error) {
	v, err := config.New("")
	if err != nil {
		return nil, err
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	if err := config.BindFlags(v, rootCmd.PersistentFlags()); err != nil {
		return nil, err
	}
	return client.New(config.LoadCLI(v))
}
