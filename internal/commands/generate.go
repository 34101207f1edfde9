package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"nanograph/internal/chat"
	"nanograph/internal/gemini"
	"nanograph/internal/media"
	"nanograph/internal/render"
)

type generateOptions struct {
	Prompt string
	Image  string
	Ratio  string
	Size   string
	// Search is nil when --search was not given, leaving the configured default.
	Search *bool
	OutDir string
}

var (
	genOpts   generateOptions
	genSearch bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Run one generation and save the images",
	Long: `Run one request/response cycle and write the returned images as
generated-<id>-<n>.<ext>. The prompt comes from the arguments or, when
stdin is not a terminal, from stdin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := genOpts
		opts.Prompt = strings.Join(args, " ")
		if cmd.Flags().Changed("search") {
			on := genSearch
			opts.Search = &on
		}
		if opts.Prompt == "" && !term.IsTerminal(int(os.Stdin.Fd())) {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			opts.Prompt = string(data)
		}

		stack, closeLog, err := loadStack()
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, cancel := context.WithTimeout(cmd.Context(), stack.Config.RequestTimeout)
		defer cancel()

		if st := stack.CheckGate(ctx); !st.Authenticated {
			msg := "no API key selected: set GEMINI_API_KEY in the environment or .env"
			if st.Error != "" {
				msg = st.Error + ": " + msg
			}
			return errors.New(msg)
		}

		pretty, width := terminalOutput(os.Stdout)
		if pretty {
			fmt.Fprintln(cmd.ErrOrStderr(), "Generating with "+stack.Gemini.Model()+"...")
		}
		return runGenerate(ctx, stack.NewConversation(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr(), pretty, width)
	},
}

func init() {
	generateCmd.Flags().StringVarP(&genOpts.Image, "image", "i", "", "Reference image file")
	generateCmd.Flags().StringVarP(&genOpts.Ratio, "ratio", "r", "", "Aspect ratio: 1:1, 3:4, 4:3, 9:16, 16:9")
	generateCmd.Flags().StringVarP(&genOpts.Size, "size", "s", "", "Resolution: 1K, 2K, 4K")
	generateCmd.Flags().BoolVar(&genSearch, "search", false, "Google Search grounding (--search=false turns off a default)")
	generateCmd.Flags().StringVarP(&genOpts.OutDir, "output", "o", ".", "Directory for generated images")
}

func terminalOutput(f *os.File) (bool, int) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return false, 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		width = 80
	}
	return true, width
}

func runGenerate(ctx context.Context, conv *chat.Controller, opts generateOptions, stdout, stderr io.Writer, pretty bool, width int) error {
	var (
		ratio gemini.AspectRatio
		size  gemini.ImageSize
		err   error
	)
	if opts.Ratio != "" {
		if ratio, err = gemini.ParseAspectRatio(opts.Ratio); err != nil {
			return err
		}
	}
	if opts.Size != "" {
		if size, err = gemini.ParseImageSize(opts.Size); err != nil {
			return err
		}
	}
	if _, err := conv.UpdateConfig(func(c *gemini.GenerationConfig) {
		if ratio != "" {
			c.AspectRatio = ratio
		}
		if size != "" {
			c.ImageSize = size
		}
		if opts.Search != nil {
			c.GoogleSearch = *opts.Search
		}
	}); err != nil {
		return err
	}

	var ref *media.Image
	if opts.Image != "" {
		img, err := media.ReadFile(opts.Image)
		if err != nil {
			return err
		}
		ref = &img
	}

	reply, err := conv.Send(ctx, opts.Prompt, ref)
	if errors.Is(err, chat.ErrEmptyInput) {
		return errors.New("nothing to send: give a prompt or --image")
	}
	if err != nil {
		return err
	}
	if reply.IsError {
		fmt.Fprintln(stderr, reply.Text)
		return errors.New("generation failed")
	}

	for i, img := range reply.Images {
		path, err := media.Save(opts.OutDir, media.DownloadName(reply.ID, i, img), img)
		if err != nil {
			return err
		}
		fmt.Fprintln(stderr, "saved "+path)
	}

	text := reply.Text
	if pretty {
		text = render.MarkdownOrPlain(text, width)
	}
	_, err = fmt.Fprintln(stdout, text)
	return err
}
