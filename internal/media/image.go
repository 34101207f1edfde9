// Package media holds the image payload shared by the generation client, the
// transcript and every front-end, plus the file read and download capabilities.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultMimeType is assumed whenever an image arrives without a usable type.
const DefaultMimeType = "image/png"

var ErrEmptyImage = errors.New("empty image")

// Image is an in-memory image: a MIME type and standard base64 bytes.
type Image struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

func FromBytes(data []byte, mimeType string) Image {
	return Image{
		MimeType: NormalizeMimeType(mimeType, data),
		Data:     base64.StdEncoding.EncodeToString(data),
	}
}

// ParseDataURL accepts either a data URL or a bare base64 string. The
// "data:<mime>;base64," header is stripped; fallback is used when it carries no type.
func ParseDataURL(value string, fallback string) (Image, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Image{}, ErrEmptyImage
	}
	if fallback == "" {
		fallback = DefaultMimeType
	}

	if !strings.HasPrefix(value, "data:") {
		if idx := strings.Index(value, "base64,"); idx >= 0 {
			value = value[idx+len("base64,"):]
		}
		return Image{MimeType: fallback, Data: value}, nil
	}

	meta, data, ok := strings.Cut(value, ",")
	if !ok {
		return Image{}, errors.New("invalid data url")
	}
	if strings.TrimSpace(data) == "" {
		return Image{}, ErrEmptyImage
	}

	mimeType := strings.TrimSpace(strings.Split(strings.TrimPrefix(meta, "data:"), ";")[0])
	if mimeType == "" {
		mimeType = fallback
	}
	return Image{MimeType: mimeType, Data: data}, nil
}

func (i Image) DataURL() string {
	mimeType := i.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, i.Data)
}

func (i Image) Bytes() ([]byte, error) {
	if i.Data == "" {
		return nil, ErrEmptyImage
	}
	data, err := base64.StdEncoding.DecodeString(i.Data)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

// Size is the decoded byte length, without decoding.
func (i Image) Size() int {
	return base64.StdEncoding.DecodedLen(len(i.Data)) - strings.Count(i.Data, "=")
}

func (i Image) IsZero() bool {
	return i.Data == ""
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/heic": ".heic",
	"image/heif": ".heif",
}

func (i Image) Extension() string {
	if ext, ok := extensions[strings.ToLower(i.MimeType)]; ok {
		return ext
	}
	return ".png"
}

// NormalizeMimeType drops parameters from a declared type and sniffs the bytes
// when nothing useful was declared.
func NormalizeMimeType(declared string, data []byte) string {
	mimeType := stripParams(declared)
	if mimeType == "" || mimeType == "application/octet-stream" {
		if len(data) > 0 {
			mimeType = stripParams(http.DetectContentType(data))
		}
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = DefaultMimeType
	}
	return mimeType
}

func stripParams(mimeType string) string {
	mimeType = strings.TrimSpace(mimeType)
	if before, _, ok := strings.Cut(mimeType, ";"); ok {
		mimeType = strings.TrimSpace(before)
	}
	return strings.ToLower(mimeType)
}
