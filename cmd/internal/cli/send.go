package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

func sendCommand(env Env) *Command {
	return &Command{
		Name:    "send",
		Summary: "Post a text message to a room.",
		Usage:   "arcfeed send [flags] <room-ref> <text...>",
		Flags: func() *pflag.FlagSet {
			return commonFlags("send")
		},
		Run: func(ctx context.Context, fs *pflag.FlagSet, args []string) error {
			if len(args) < 2 {
				return errUsage
			}
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				return errUsage
			}

			cfg, c, _, err := setup(env, fs)
			if err != nil {
				return err
			}
			room, err := c.Resolve(ctx, args[0], cfg.Token)
			if err != nil {
				return err
			}
			msg, err := c.SendText(ctx, room, cfg.Token, text)
			if err != nil {
				return err
			}
			fmt.Fprintf(env.Stdout, "sent #%d to %s\n", msg.Seq, room)
			return nil
		},
	}
}
