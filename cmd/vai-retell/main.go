// Command vai-retell serves the custom LLM websocket for voice calls and
// carries the operator commands that go with it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-retell/internal/dotenv"
	"github.com/vango-go/vai-retell/pkg/gateway/config"
)

// cliDeps are the process seams the commands share.
type cliDeps struct {
	loadConfig func() (config.Config, error)
	serve      serveDeps
}

func defaultCLIDeps() cliDeps {
	return cliDeps{
		loadConfig: config.LoadFromEnv,
		serve:      defaultServeDeps(),
	}
}

func newRootCmd(deps cliDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "vai-retell",
		Short:         "Custom LLM websocket backend for voice calls",
		Long:          "vai-retell answers the voice platform's custom LLM websocket, streaming\nmodel replies for each call turn, and manages the per-call metadata store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCmd(deps),
		newRegisterAgentCmd(deps),
		newMetadataCmd(deps),
	)
	return cmd
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps cliDeps) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "vai-retell: %v\n", err)
		return 1
	}

	cmd := newRootCmd(deps)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "vai-retell: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultCLIDeps()))
}
