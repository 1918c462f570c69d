// Command p4m drives the post4me backend from a terminal: list and manage
// posts, compose, watch the board and maintain settings.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ibeckermayer/post4me/internal/app"
	"github.com/ibeckermayer/post4me/internal/config"
	"github.com/ibeckermayer/post4me/internal/confirm"
	"github.com/ibeckermayer/post4me/internal/store"
)

var (
	assumeYes bool
	serverURL string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:           "p4m",
	Short:         "Schedule and publish posts on X through post4me",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		if !verbose {
			log.SetOutput(io.Discard)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Approve every confirmation without asking")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Backend API URL (overrides config and "+config.ServerURLEnv+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "posts", Title: "Posts:"},
		&cobra.Group{ID: "account", Title: "Account and settings:"},
	)
}

// loadConfig reads the config file, falling back to defaults when there is
// none yet.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = config.Default()
	}
	if serverURL != "" {
		cfg.Server.BaseURL = serverURL
	}
	return cfg, nil
}

// openApp wires the application for one command. The returned function
// releases it.
func openApp() (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	statePath, err := config.StatePath()
	if err != nil {
		return nil, nil, err
	}
	kv, err := store.New(statePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open local state: %w", err)
	}

	var presenter confirm.Presenter = confirm.NewTerminal(os.Stdin, os.Stderr)
	if assumeYes {
		presenter = confirm.AutoApprove{}
	}
	a, err := app.New(cfg, kv, app.WithPresenter(presenter))
	if err != nil {
		kv.Close()
		return nil, nil, err
	}
	return a, func() {
		a.Close()
		kv.Close()
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
