package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nanograph/internal/auth"
	"nanograph/internal/chat"
	"nanograph/internal/media"
	"nanograph/internal/mediagroup"
	"nanograph/internal/session"
	"nanograph/internal/telegram"
)

const (
	busyText    = "Still generating, please wait."
	unknownText = "Unknown command. Use /help."
	albumNote   = "Only the first photo of an album is used as the reference image."
)

const helpText = "Send a description and I will generate an image.\n" +
	"Attach a photo (the caption is the prompt) to use it as a reference.\n\n" +
	"/settings - aspect ratio, resolution and search grounding\n" +
	"/ratio <1:1|3:4|4:3|9:16|16:9> - set the aspect ratio\n" +
	"/size <1K|2K|4K> - set the resolution\n" +
	"/search [on|off] - toggle Google Search grounding\n" +
	"/key [api key] - select an API key\n" +
	"/new - start a new conversation\n" +
	"/help - this message"

// Commands is the bot's command menu.
var Commands = []telegram.Command{
	{Name: "start", Description: "Start"},
	{Name: "help", Description: "Help"},
	{Name: "settings", Description: "Generation settings"},
	{Name: "ratio", Description: "Set the aspect ratio"},
	{Name: "size", Description: "Set the resolution"},
	{Name: "search", Description: "Toggle Google Search grounding"},
	{Name: "key", Description: "Select an API key"},
	{Name: "new", Description: "Start a new conversation"},
}

// Bot is the slice of the Telegram client the handler talks to.
type Bot interface {
	SendText(chatID int64, text string) error
	SendTyping(chatID int64)
	SendTextWithKeyboard(chatID int64, text string, kb telegram.Keyboard) (int, error)
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb telegram.Keyboard) error
	AnswerCallback(callbackID, text string, alert bool) error
	DeleteMessage(chatID int64, messageID int) error
	SendPhoto(chatID int64, img media.Image, caption string) error
	SendDocument(chatID int64, name string, img media.Image) error
	DownloadFile(ctx context.Context, fileID string) (media.Image, error)
}

type KeyStager interface {
	Use(key string)
}

type Options struct {
	Telegram Bot
	Sessions *session.Store
	Gate     *auth.Gate
	Stager   KeyStager
	Keyring  *auth.Keyring
	Model    string
	Logger   *slog.Logger
}

type Handler struct {
	tg         Bot
	sessions   *session.Store
	gate       *auth.Gate
	stager     KeyStager
	keyring    *auth.Keyring
	model      string
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		tg:       opts.Telegram,
		sessions: opts.Sessions,
		gate:     opts.Gate,
		stager:   opts.Stager,
		keyring:  opts.Keyring,
		model:    opts.Model,
		logger:   logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(update.CallbackQuery)
	}
	if update.Message == nil || update.Message.Chat == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, msg)
	}

	if fileID := imageFileID(msg); fileID != "" {
		return h.handlePhoto(ctx, chatID, msg, fileID)
	}

	if msg.Text != "" {
		return h.send(ctx, chatID, msg.Text, nil)
	}

	return nil
}

// HandleAlbum sends one turn for a flushed album, its first photo as the reference.
func (h *Handler) HandleAlbum(ctx context.Context, album mediagroup.Album) {
	if len(album.FileIDs) > 1 {
		_ = h.tg.SendText(album.ChatID, albumNote)
	}
	if err := h.sendWithFile(ctx, album.ChatID, album.Caption, album.Reference()); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Error("album processing failed", "chat_id", album.ChatID, "err", err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		conv := h.sessions.Get(chatID)
		text := chat.WelcomeText
		if welcome, ok := conv.Message(chat.WelcomeID); ok {
			text = welcome.Text
		}
		if err := h.tg.SendText(chatID, text); err != nil {
			return err
		}
		if !h.gateOpen() {
			return h.tg.SendText(chatID, h.gateText())
		}
		return nil
	case "help":
		return h.tg.SendText(chatID, helpText)
	case "settings":
		return h.showSettings(chatID)
	case "ratio":
		return h.setRatio(chatID, args)
	case "size":
		return h.setSize(chatID, args)
	case "search":
		return h.setSearch(chatID, args)
	case "key":
		return h.selectKey(ctx, chatID, msg.MessageID, args)
	case "new":
		if _, err := h.sessions.Reset(chatID); errors.Is(err, chat.ErrBusy) {
			return h.tg.SendText(chatID, busyText)
		}
		return h.tg.SendText(chatID, "Started a new conversation.\n\n"+chat.WelcomeText)
	default:
		return h.tg.SendText(chatID, unknownText)
	}
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, msg *tgbotapi.Message, fileID string) error {
	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			MessageID:    msg.MessageID,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       fileID,
		})
		return nil
	}

	return h.sendWithFile(ctx, chatID, msg.Caption, fileID)
}

func (h *Handler) sendWithFile(ctx context.Context, chatID int64, caption, fileID string) error {
	if !h.ready(chatID) {
		return nil
	}

	img, err := h.tg.DownloadFile(ctx, fileID)
	if err != nil {
		h.logger.Error("photo download failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "Failed to download the image. Please send it again.")
	}
	return h.send(ctx, chatID, caption, &img)
}

// ready reports whether a send may start and tells the user when it may not.
func (h *Handler) ready(chatID int64) bool {
	if !h.gateOpen() {
		_ = h.tg.SendText(chatID, h.gateText())
		return false
	}
	if h.sessions.Get(chatID).Busy() {
		_ = h.tg.SendText(chatID, busyText)
		return false
	}
	return true
}

func (h *Handler) send(ctx context.Context, chatID int64, text string, ref *media.Image) error {
	if !h.ready(chatID) {
		return nil
	}

	conv := h.sessions.Get(chatID)
	h.tg.SendTyping(chatID)

	reply, err := conv.Send(ctx, text, ref)
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		return nil
	case errors.Is(err, chat.ErrBusy):
		return h.tg.SendText(chatID, busyText)
	case err != nil:
		return err
	}

	return h.renderReply(chatID, reply)
}

// renderReply posts a model turn: the images as photos, the text as the first
// caption when it fits, and each image again as a named document.
func (h *Handler) renderReply(chatID int64, reply chat.Message) error {
	if len(reply.Images) == 0 {
		return h.tg.SendText(chatID, reply.Text)
	}

	caption := reply.Text
	if len(caption) > telegram.MaxCaptionBytes {
		if err := h.tg.SendText(chatID, caption); err != nil {
			return err
		}
		caption = ""
	}

	for i, img := range reply.Images {
		sendCaption := ""
		if i == 0 {
			sendCaption = caption
		}
		if err := h.tg.SendPhoto(chatID, img, sendCaption); err != nil {
			return err
		}
	}
	for i, img := range reply.Images {
		if err := h.tg.SendDocument(chatID, media.DownloadName(reply.ID, i, img), img); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) selectKey(ctx context.Context, chatID int64, messageID int, key string) error {
	if h.gate == nil {
		return h.tg.SendText(chatID, "Key selection is not available.")
	}

	if key != "" {
		// The key is in the chat history otherwise.
		if err := h.tg.DeleteMessage(chatID, messageID); err != nil {
			h.logger.Warn("delete key message failed", "chat_id", chatID, "err", err)
		}
		if h.stager != nil {
			h.stager.Use(key)
		}
	}

	st := h.gate.Select(ctx)
	if !st.Authenticated {
		return h.tg.SendText(chatID, h.gateText())
	}
	return h.tg.SendText(chatID, "API key selected: "+h.maskedKey())
}

func (h *Handler) gateOpen() bool {
	return h.gate != nil && h.gate.Authenticated()
}

func (h *Handler) gateText() string {
	text := "Access required. To use the Gemini 3 Pro image model you must select a valid " +
		"paid-project API key: send /key <api key>, or set GEMINI_API_KEY and send /key.\n" +
		"Billing: https://ai.google.dev/gemini-api/docs/billing"
	if h.gate != nil {
		if st := h.gate.State(); st.Error != "" {
			text = st.Error + "\n\n" + text
		}
	}
	return text
}

func (h *Handler) maskedKey() string {
	if h.keyring == nil {
		return "Not Connected"
	}
	return h.keyring.Mask()
}

// imageFileID picks the largest photo size, or an image sent as a file.
func imageFileID(msg *tgbotapi.Message) string {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID
	}
	if msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/") {
		return msg.Document.FileID
	}
	return ""
}
