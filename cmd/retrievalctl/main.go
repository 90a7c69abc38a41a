package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/bootstrap"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/config"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/util"
)

// openServices builds the services a command runs against. Tests replace it.
var openServices = func(ctx context.Context) (*bootstrap.Services, error) {
	return bootstrap.New(ctx, config.Load())
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "retrievalctl",
		Short:         "Operate the retrieval stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			bootstrap.InitLogger(config.Load(), "retrievalctl")
		},
	}
	root.AddCommand(newValidateCmd(), newOverrideCmd(), newMigrateCmd())
	return root
}

// withServices opens the services for the duration of fn.
func withServices(cmd *cobra.Command, fn func(s *bootstrap.Services) error) error {
	s, err := openServices(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close(context.Background())
	return fn(s)
}

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
