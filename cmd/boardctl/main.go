package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// Global flags shared by every command that talks to a board.
var (
	boardURL string
	timeout  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "boardctl",
		Short: "Operate and test an Inkboard server",
		Long: `boardctl talks to an Inkboard server over its WebSocket protocol.

It can watch a board, dump or export its history, draw on it, clear it,
tail the NATS event feed, find boards on the LAN and run load tests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&boardURL, "url", "u", envOr("INKBOARD_URL", "ws://localhost:8080/ws"), "board WebSocket URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "connect and acknowledgement timeout")

	rootCmd.AddCommand(
		watchCmd(),
		dumpCmd(),
		lineCmd(),
		eraseCmd(),
		textCmd(),
		clearCmd(),
		feedCmd(),
		discoverCmd(),
		loadCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		stop()
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
