package commands

import (
	"github.com/spf13/cobra"

	"nanograph/internal/tui"
)

var saveDirFlag string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the full-screen chat",
	Long: `Start a full-screen chat with the image model.

Type a description and press Enter. Commands:
  /attach <path>   use an image file as the reference for the next send
  /detach          drop the reference image
  /ratio <r>       1:1, 3:4, 4:3, 9:16 or 16:9
  /size <s>        1K, 2K or 4K
  /search [on|off] toggle Google Search grounding
  /save [dir]      write the latest generated images
  /key [key]       select an API key
  /quit            leave
ctrl+y copies the last reply.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, closeLog, err := loadStack()
		if err != nil {
			return err
		}
		defer closeLog()

		return tui.Run(tui.Options{
			Conversation:   stack.NewConversation(),
			Gate:           stack.Gate,
			Stager:         stack.Host,
			Keyring:        stack.Keyring,
			Model:          stack.Gemini.Model(),
			SaveDir:        saveDirFlag,
			RequestTimeout: stack.Config.RequestTimeout,
		})
	},
}

func init() {
	chatCmd.Flags().StringVarP(&saveDirFlag, "output", "o", ".", "Default directory for /save")
}
