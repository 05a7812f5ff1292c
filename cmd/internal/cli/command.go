// Package cli implements the arcfeed command line: a small command tree with
// pflag flag sets, and the watch, send and media commands built on the
// streaming engine and the rooms client.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the command tree.
type Command struct {
	Name    string
	Summary string
	// Usage is the usage line, e.g. "arcfeed watch [flags] <room-ref>".
	Usage string

	// Flags returns a fresh flag set. Nil means the command takes no flags.
	Flags func() *pflag.FlagSet

	Subcommands []*Command

	// Run receives the positional args left after flag parsing. fs is nil
	// when Flags is nil.
	Run func(ctx context.Context, fs *pflag.FlagSet, args []string) error

	parent *Command
}

// ExitError carries a process exit code alongside the error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode implements the interface main checks for.
func (e *ExitError) ExitCode() int { return e.Code }

var errUsage = errors.New("usage")

// Execute dispatches args to a subcommand or parses flags and runs c.
func (c *Command) Execute(ctx context.Context, stderr io.Writer, args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(stderr)
		return nil
	}

	if len(c.Subcommands) > 0 {
		if len(args) == 0 || strings.HasPrefix(args[0], "-") {
			c.PrintHelp(stderr)
			return &ExitError{Code: 2, Err: fmt.Errorf("%s: subcommand required", c.fullName())}
		}
		for _, sub := range c.Subcommands {
			if sub.Name == args[0] {
				sub.parent = c
				return sub.Execute(ctx, stderr, args[1:])
			}
		}
		return &ExitError{Code: 2, Err: fmt.Errorf("unknown command %q\n\nRun '%s --help' for usage.", args[0], c.fullName())}
	}

	var fs *pflag.FlagSet
	if c.Flags != nil {
		fs = c.Flags()
		fs.SetOutput(io.Discard)
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				c.PrintHelp(stderr)
				return nil
			}
			return &ExitError{Code: 2, Err: fmt.Errorf("%v\n\nRun '%s --help' for usage.", err, c.fullName())}
		}
		args = fs.Args()
	}

	err := c.Run(ctx, fs, args)
	if errors.Is(err, errUsage) {
		c.PrintHelp(stderr)
		return &ExitError{Code: 2, Err: err}
	}
	return err
}

// PrintHelp writes usage, subcommands and flags to w.
func (c *Command) PrintHelp(w io.Writer) {
	if c.Summary != "" {
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}
	usage := c.Usage
	if usage == "" {
		usage = c.fullName() + " <command>"
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", usage)

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		_ = tw.Flush()
	}

	if c.Flags != nil {
		var b strings.Builder
		fs := c.Flags()
		fs.SetOutput(&b)
		fs.PrintDefaults()
		if b.Len() > 0 {
			fmt.Fprintf(w, "\nFlags:\n%s", b.String())
		}
	}
}

func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func isHelpFlag(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}
