package cli

import (
	"context"
	"io"
	"strings"

	"arcfeed/cmd/internal/stream"

	"github.com/fatih/color"
)

// Renderer writes message batches to a terminal, one line per message.
// It implements stream.UpdateSink.
type Renderer struct {
	w      io.Writer
	layout string

	stamp  *color.Color
	author *color.Color
	media  *color.Color
}

// NewRenderer returns a Renderer writing to w.
func NewRenderer(w io.Writer, useColor bool) *Renderer {
	r := &Renderer{
		w:      w,
		layout: "2006-01-02 15:04",
		stamp:  color.New(color.Faint),
		author: color.New(color.Bold, color.FgCyan),
		media:  color.New(color.FgMagenta),
	}
	for _, c := range []*color.Color{r.stamp, r.author, r.media} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// Update renders msgs in order.
func (r *Renderer) Update(_ context.Context, msgs []stream.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	var b strings.Builder
	for _, m := range msgs {
		r.format(&b, m)
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) format(b *strings.Builder, m stream.Message) {
	b.WriteString(r.stamp.Sprint(m.SentAt.Local().Format(r.layout)))
	b.WriteByte(' ')
	b.WriteString(r.author.Sprint(m.AuthorDisplayName))
	b.WriteString(": ")

	var parts []string
	if m.Text != "" {
		// Continuation lines line up under the first.
		parts = append(parts, strings.ReplaceAll(m.Text, "\n", "\n    "))
	}
	if m.MediaID != "" {
		parts = append(parts, r.media.Sprint("[media "+m.MediaID+"]"))
	}
	b.WriteString(strings.Join(parts, " "))
	b.WriteByte('\n')
}
