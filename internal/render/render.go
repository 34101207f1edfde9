// Package render turns model text into styled terminal output.
package render

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

const (
	StyleDark  = "dark"
	StyleLight = "light"
	// StylePlain produces unstyled output for pipes and files.
	StylePlain = "notty"
)

type Options struct {
	Width int
	Style string
}

func DefaultOptions() Options {
	return Options{Width: 80, Style: StyleDark}
}

func (o Options) WithWidth(width int) Options {
	o.Width = width
	return o
}

func (o Options) WithStyle(style string) Options {
	o.Style = style
	return o
}

// Renderers are not safe for concurrent use, so each option set gets a pool.
var (
	poolsMu sync.Mutex
	pools   = map[string]*sync.Pool{}
)

func poolFor(opts Options) *sync.Pool {
	key := fmt.Sprintf("%s:%d", opts.Style, opts.Width)

	poolsMu.Lock()
	defer poolsMu.Unlock()

	if p, ok := pools[key]; ok {
		return p
	}
	p := &sync.Pool{}
	pools[key] = p
	return p
}

func newRenderer(opts Options) (*glamour.TermRenderer, error) {
	return glamour.NewTermRenderer(
		glamour.WithStandardStyle(opts.Style),
		glamour.WithWordWrap(opts.Width),
		glamour.WithPreservedNewLines(),
		glamour.WithEmoji(),
	)
}

func normalize(opts Options) Options {
	if opts.Width <= 0 {
		opts.Width = 80
	}
	if opts.Style == "" {
		opts.Style = StyleDark
	}
	return opts
}

// Markdown renders content. Trailing blank lines added by glamour are trimmed.
func Markdown(content string, opts Options) (string, error) {
	opts = normalize(opts)
	pool := poolFor(opts)

	r, _ := pool.Get().(*glamour.TermRenderer)
	if r == nil {
		var err error
		if r, err = newRenderer(opts); err != nil {
			return "", fmt.Errorf("create renderer: %w", err)
		}
	}
	defer pool.Put(r)

	out, err := r.Render(content)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

// MarkdownOrPlain falls back to the raw content when rendering fails.
func MarkdownOrPlain(content string, width int) string {
	out, err := Markdown(content, DefaultOptions().WithWidth(width))
	if err != nil {
		return content
	}
	return out
}
