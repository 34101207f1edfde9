package chat

import (
	"time"

	"nanograph/internal/media"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

const WelcomeID = "welcome"

const WelcomeText = "Hello! I'm NanoGraph Pro, powered by the Gemini 3 Pro image model. " +
	"I can generate high-quality 1K, 2K, and 4K images.\n\n" +
	"Describe what you want to see, or upload a reference image to get started."

const (
	imageReadyText = "Here is your generated image."
	noImageText    = "I couldn't generate an image, but here is my response."
	errorHint      = "If you see a \"404\" or \"Entity not found\", please try re-selecting your API key and reload."
)

// Message is one turn of the conversation. Text is empty when the turn has none.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Text      string        `json:"text,omitempty"`
	Images    []media.Image `json:"images"`
	Timestamp time.Time     `json:"timestamp"`
	IsError   bool          `json:"is_error,omitempty"`
}

func (m Message) clone() Message {
	out := m
	out.Images = make([]media.Image, len(m.Images))
	copy(out.Images, m.Images)
	return out
}

func errorText(err error) string {
	msg := "Something went wrong while generating the image"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return "Error: " + msg + ".\n\n" + errorHint
}
