package handlers

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nanograph/internal/gemini"
)

const settingsCallbackPrefix = "st"

func (h *Handler) showSettings(chatID int64) error {
	cfg := h.sessions.Get(chatID).Config()
	_, err := h.tg.SendTextWithKeyboard(chatID, h.settingsText(cfg), settingsKeyboard(cfg))
	return err
}

func (h *Handler) setRatio(chatID int64, arg string) error {
	if arg == "" {
		return h.showSettings(chatID)
	}
	ratio, err := gemini.ParseAspectRatio(arg)
	if err != nil {
		return h.tg.SendText(chatID, "Unknown aspect ratio. Use one of: "+joinRatios())
	}
	cfg, err := h.sessions.Get(chatID).UpdateConfig(func(c *gemini.GenerationConfig) { c.AspectRatio = ratio })
	if err != nil {
		return err
	}
	return h.tg.SendText(chatID, "Aspect ratio set to "+string(cfg.AspectRatio)+".")
}

func (h *Handler) setSize(chatID int64, arg string) error {
	if arg == "" {
		return h.showSettings(chatID)
	}
	size, err := gemini.ParseImageSize(arg)
	if err != nil {
		return h.tg.SendText(chatID, "Unknown resolution. Use one of: "+joinSizes())
	}
	cfg, err := h.sessions.Get(chatID).UpdateConfig(func(c *gemini.GenerationConfig) { c.ImageSize = size })
	if err != nil {
		return err
	}
	msg := "Resolution set to " + string(cfg.ImageSize) + "."
	if cfg.ImageSize != gemini.Size1K {
		msg += " Higher resolutions may take longer to generate."
	}
	return h.tg.SendText(chatID, msg)
}

func (h *Handler) setSearch(chatID int64, arg string) error {
	conv := h.sessions.Get(chatID)

	var on bool
	switch strings.ToLower(arg) {
	case "":
		on = !conv.Config().GoogleSearch
	case "on", "true", "yes", "1":
		on = true
	case "off", "false", "no", "0":
		on = false
	default:
		return h.tg.SendText(chatID, "Use /search on or /search off.")
	}

	cfg, err := conv.UpdateConfig(func(c *gemini.GenerationConfig) { c.GoogleSearch = on })
	if err != nil {
		return err
	}
	return h.tg.SendText(chatID, "Google Search grounding: "+onOff(cfg.GoogleSearch)+".")
}

func (h *Handler) handleCallback(q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.Message.Chat == nil {
		return nil
	}

	// Values such as "16:9" contain the separator, so split at most twice.
	parts := strings.SplitN(strings.TrimSpace(q.Data), ":", 3)
	if len(parts) < 2 || parts[0] != settingsCallbackPrefix {
		return nil
	}

	chatID := q.Message.Chat.ID
	msgID := q.Message.MessageID
	action := parts[1]
	value := ""
	if len(parts) == 3 {
		value = parts[2]
	}

	if action == "close" {
		_ = h.tg.AnswerCallback(q.ID, "", false)
		return h.tg.DeleteMessage(chatID, msgID)
	}

	conv := h.sessions.Get(chatID)
	cfg, err := conv.UpdateConfig(func(c *gemini.GenerationConfig) {
		switch action {
		case "ratio":
			if r, err := gemini.ParseAspectRatio(value); err == nil {
				c.AspectRatio = r
			}
		case "size":
			if s, err := gemini.ParseImageSize(value); err == nil {
				c.ImageSize = s
			}
		case "search":
			c.GoogleSearch = !c.GoogleSearch
		}
	})
	if err != nil {
		_ = h.tg.AnswerCallback(q.ID, err.Error(), true)
		return nil
	}

	_ = h.tg.AnswerCallback(q.ID, "Saved", false)
	return h.tg.EditTextWithKeyboard(chatID, msgID, h.settingsText(cfg), settingsKeyboard(cfg))
}

func (h *Handler) settingsText(cfg gemini.GenerationConfig) string {
	var b strings.Builder
	b.WriteString("Settings\n\n")
	fmt.Fprintf(&b, "Aspect ratio: %s\n", cfg.AspectRatio)
	fmt.Fprintf(&b, "Resolution: %s\n", cfg.ImageSize)
	fmt.Fprintf(&b, "Google Search grounding: %s\n", onOff(cfg.GoogleSearch))
	if cfg.ImageSize != gemini.Size1K {
		b.WriteString("\nHigher resolutions (2K/4K) may take longer to generate.\n")
	}
	b.WriteString("\nModel: " + h.model + "\n")
	b.WriteString("API key: " + h.maskedKey())
	return b.String()
}

func settingsKeyboard(cfg gemini.GenerationConfig) tgbotapi.InlineKeyboardMarkup {
	var ratioRow []tgbotapi.InlineKeyboardButton
	for _, r := range gemini.AspectRatios() {
		ratioRow = append(ratioRow, tgbotapi.NewInlineKeyboardButtonData(mark(string(r), cfg.AspectRatio == r), cb("ratio", string(r))))
	}

	var sizeRow []tgbotapi.InlineKeyboardButton
	for _, s := range gemini.ImageSizes() {
		sizeRow = append(sizeRow, tgbotapi.NewInlineKeyboardButtonData(mark(string(s), cfg.ImageSize == s), cb("size", string(s))))
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		ratioRow,
		sizeRow,
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("Search: "+onOff(cfg.GoogleSearch), cb("search")),
			tgbotapi.NewInlineKeyboardButtonData("Close", cb("close")),
		},
	)
}

func cb(action string, args ...string) string {
	return strings.Join(append([]string{settingsCallbackPrefix, action}, args...), ":")
}

func mark(label string, selected bool) string {
	if selected {
		return "✅ " + label
	}
	return label
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func joinRatios() string {
	var out []string
	for _, r := range gemini.AspectRatios() {
		out = append(out, string(r))
	}
	return strings.Join(out, ", ")
}

func joinSizes() string {
	var out []string
	for _, s := range gemini.ImageSizes() {
		out = append(out, string(s))
	}
	return strings.Join(out, ", ")
}
