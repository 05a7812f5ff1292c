package cli

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

func mediaCommand(env Env) *Command {
	return &Command{
		Name:    "media",
		Summary: "Upload a file to a room as a media message.",
		Usage:   "arcfeed media [flags] <room-ref> <file>",
		Flags: func() *pflag.FlagSet {
			fs := commonFlags("media")
			fs.String("content-type", "", "override the detected content type")
			return fs
		},
		Run: func(ctx context.Context, fs *pflag.FlagSet, args []string) error {
			if len(args) != 2 {
				return errUsage
			}
			return runMedia(ctx, env, fs, args[0], args[1])
		},
	}
}

func runMedia(ctx context.Context, env Env, fs *pflag.FlagSet, ref, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	contentType, _ := fs.GetString("content-type")
	if contentType == "" {
		contentType = detectContentType(path, data)
	}

	cfg, c, _, err := setup(env, fs)
	if err != nil {
		return err
	}
	room, err := c.Resolve(ctx, ref, cfg.Token)
	if err != nil {
		return err
	}

	res, err := c.SendMedia(ctx, room, cfg.Token, contentType, data)
	if res.StatusCode != 0 && res.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to upload media, response: %s", res.Body)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(env.Stdout, "uploaded %s (%s, %s) as %s\n",
		filepath.Base(path), humanize.Bytes(uint64(res.Size)), res.ContentType, res.MediaID)
	return nil
}

// detectContentType prefers the file extension and falls back to sniffing.
func detectContentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
