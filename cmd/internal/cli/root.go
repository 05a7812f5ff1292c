package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"arcfeed/cmd/internal/client"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitInterrupted = 3
)

// Env is what commands read from and write to. Tests substitute every field.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	// Color enables ANSI colors on Stdout.
	Color bool
	// Lifecycle is closed when the process is asked to stop.
	Lifecycle <-chan struct{}
}

// Main runs arcfeed with os.Args-style args (without the program name) and
// returns the process exit code.
func Main(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := Env{
		Stdout:    color.Output,
		Stderr:    os.Stderr,
		Color:     !color.NoColor,
		Lifecycle: ctx.Done(),
	}

	err := NewRoot(env).Execute(ctx, env.Stderr, args)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(env.Stderr, "arcfeed: %v\n", err)

	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return ExitFailure
}

// NewRoot builds the arcfeed command tree.
func NewRoot(env Env) *Command {
	return &Command{
		Name:    "arcfeed",
		Summary: "Stream, post to and upload into Arc chat rooms.",
		Usage:   "arcfeed <command> [flags]",
		Subcommands: []*Command{
			watchCommand(env),
			sendCommand(env),
			mediaCommand(env),
		},
	}
}

// commonFlags registers flags shared by every command.
func commonFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to the YAML config file (default $"+client.ConfigEnvVar+")")
	fs.String("token", "", "bearer token (overrides config)")
	return fs
}

// setup loads the configuration named by the common flags and builds a
// logger and a rooms client from it.
func setup(env Env, fs *pflag.FlagSet) (client.Config, *client.Client, *slog.Logger, error) {
	path, _ := fs.GetString("config")
	cfg, err := client.LoadConfig(path)
	if err != nil {
		return client.Config{}, nil, nil, err
	}
	if tok, _ := fs.GetString("token"); tok != "" {
		cfg.Token = tok
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(env.Stderr, &slog.HandlerOptions{Level: level}))

	c, err := cfg.NewClient(log)
	if err != nil {
		return client.Config{}, nil, nil, err
	}
	return cfg, c, log, nil
}
