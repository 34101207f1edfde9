package gemini

import (
	"fmt"
	"strings"

	"nanograph/internal/media"
)

type AspectRatio string

const (
	AspectSquare    AspectRatio = "1:1"
	AspectPortrait  AspectRatio = "3:4"
	AspectLandscape AspectRatio = "4:3"
	AspectTall      AspectRatio = "9:16"
	AspectWide      AspectRatio = "16:9"
)

type ImageSize string

const (
	Size1K ImageSize = "1K"
	Size2K ImageSize = "2K"
	Size4K ImageSize = "4K"
)

func AspectRatios() []AspectRatio {
	return []AspectRatio{AspectSquare, AspectPortrait, AspectLandscape, AspectTall, AspectWide}
}

func ImageSizes() []ImageSize {
	return []ImageSize{Size1K, Size2K, Size4K}
}

func ParseAspectRatio(value string) (AspectRatio, error) {
	value = strings.TrimSpace(value)
	for _, r := range AspectRatios() {
		if string(r) == value {
			return r, nil
		}
	}
	return "", fmt.Errorf("unsupported aspect ratio %q", value)
}

func ParseImageSize(value string) (ImageSize, error) {
	value = strings.ToUpper(strings.TrimSpace(value))
	for _, s := range ImageSizes() {
		if string(s) == value {
			return s, nil
		}
	}
	return "", fmt.Errorf("unsupported image size %q", value)
}

// GenerationConfig is the user-editable set of generation parameters.
type GenerationConfig struct {
	AspectRatio  AspectRatio `json:"aspect_ratio"`
	ImageSize    ImageSize   `json:"image_size"`
	GoogleSearch bool        `json:"google_search"`
}

func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		AspectRatio: AspectSquare,
		ImageSize:   Size1K,
	}
}

func (c GenerationConfig) Validate() error {
	if _, err := ParseAspectRatio(string(c.AspectRatio)); err != nil {
		return err
	}
	if _, err := ParseImageSize(string(c.ImageSize)); err != nil {
		return err
	}
	if strings.ToUpper(string(c.ImageSize)) != string(c.ImageSize) {
		return fmt.Errorf("unsupported image size %q", c.ImageSize)
	}
	return nil
}

type Request struct {
	Prompt    string
	Reference *media.Image
	Config    GenerationConfig
}

type Result struct {
	Text   string
	Images []media.Image
}

// Part is one parsed output part: either an ImagePart or a TextPart.
type Part interface {
	isPart()
}

type ImagePart struct {
	Image media.Image
}

type TextPart struct {
	Text string
}

func (ImagePart) isPart() {}
func (TextPart) isPart()  {}
