// Package web serves the single-page chat and the JSON API behind it.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nanograph/internal/auth"
	"nanograph/internal/chat"
	"nanograph/internal/gemini"
	"nanograph/internal/logging"
	"nanograph/internal/media"
)

//go:embed static/*
var staticFS embed.FS

const maxUploadBytes = 25 << 20

// KeyStager accepts a pasted key ahead of a gate selection.
type KeyStager interface {
	Use(key string)
}

type Options struct {
	Conversation   *chat.Controller
	Gate           *auth.Gate
	Stager         KeyStager
	Keyring        *auth.Keyring
	Model          string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type Server struct {
	conv           *chat.Controller
	gate           *auth.Gate
	stager         KeyStager
	keyring        *auth.Keyring
	model          string
	requestTimeout time.Duration
	logger         *slog.Logger
}

type apiError struct {
	Error string `json:"error"`
}

type messageView struct {
	ID        string    `json:"id"`
	Role      chat.Role `json:"role"`
	Text      string    `json:"text,omitempty"`
	Images    []string  `json:"images"`
	Timestamp time.Time `json:"timestamp"`
	IsError   bool      `json:"is_error,omitempty"`
}

type stateResponse struct {
	Messages []messageView           `json:"messages"`
	Config   gemini.GenerationConfig `json:"config"`
	Busy     bool                    `json:"busy"`
	Gate     auth.State              `json:"gate"`
	Model    string                  `json:"model"`
	Key      string                  `json:"key"`
}

type sendRequest struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
}

type selectRequest struct {
	APIKey string `json:"api_key"`
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 240 * time.Second
	}

	return &Server{
		conv:           opts.Conversation,
		gate:           opts.Gate,
		stager:         opts.Stager,
		keyring:        opts.Keyring,
		model:          opts.Model,
		requestTimeout: timeout,
		logger:         logger,
	}
}

// HTTPServer returns an http.Server for Handler whose request contexts derive
// from ctx. Cancelling ctx ends open event streams so Shutdown can drain.
func (s *Server) HTTPServer(ctx context.Context, addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.requestTimeout + 30*time.Second,
		IdleTimeout:       90 * time.Second,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/messages", s.handleSend)
	mux.HandleFunc("GET /api/messages/{id}/images/{index}", s.handleDownload)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config", s.handlePutConfig)
	mux.HandleFunc("GET /api/gate", s.handleGate)
	mux.HandleFunc("POST /api/gate/select", s.handleSelect)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /", http.FileServer(http.FS(staticSub)))

	return withLogging(mux, s.logger)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) state() stateResponse {
	msgs := s.conv.Messages()
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, toView(m))
	}

	key := "Not Connected"
	if s.keyring != nil {
		key = s.keyring.Mask()
	}

	return stateResponse{
		Messages: views,
		Config:   s.conv.Config(),
		Busy:     s.conv.Busy(),
		Gate:     s.gateState(),
		Model:    s.model,
		Key:      key,
	}
}

func (s *Server) gateState() auth.State {
	if s.gate == nil {
		return auth.State{}
	}
	return s.gate.State()
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.gateState().Authenticated {
		writeJSON(w, http.StatusForbidden, apiError{Error: "select an API key first"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	text, ref, err := readSendRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	// A send runs to completion even if the browser goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.requestTimeout)
	defer cancel()

	reply, err := s.conv.Send(ctx, text, ref)
	switch {
	case errors.Is(err, chat.ErrEmptyInput):
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	case errors.Is(err, chat.ErrBusy):
		writeJSON(w, http.StatusConflict, apiError{Error: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, toView(reply))
}

func readSendRequest(r *http.Request) (string, *media.Image, error) {
	contentType := r.Header.Get("content-type")

	if strings.HasPrefix(contentType, "application/json") {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", nil, errors.New("invalid json body")
		}
		if strings.TrimSpace(req.Image) == "" {
			return req.Text, nil, nil
		}
		img, err := media.ParseDataURL(req.Image, "")
		if err != nil {
			return "", nil, errors.New("invalid image")
		}
		return req.Text, &img, nil
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, errors.New("invalid multipart form")
	}

	text := r.FormValue("text")
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return text, nil, nil
		}
		return "", nil, errors.New("invalid image")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, errors.New("failed to read image")
	}
	if len(data) == 0 {
		return text, nil, nil
	}

	img := media.FromBytes(data, header.Header.Get("Content-Type"))
	return text, &img, nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.conv.Message(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "message not found"})
		return
	}

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 || index >= len(msg.Images) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "image not found"})
		return
	}

	img := msg.Images[index]
	data, err := img.Bytes()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "image is not decodable"})
		return
	}

	w.Header().Set("content-type", img.MimeType)
	w.Header().Set("content-disposition", `attachment; filename="`+media.DownloadName(msg.ID, index, img)+`"`)
	w.Header().Set("content-length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.conv.Config())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg gemini.GenerationConfig
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json body"})
		return
	}
	if err := s.conv.SetConfig(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.conv.Config())
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateState())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		writeJSON(w, http.StatusServiceUnavailable, auth.State{Error: "credential selection is not available"})
		return
	}

	var req selectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<14)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json body"})
			return
		}
	}
	if key := strings.TrimSpace(req.APIKey); key != "" && s.stager != nil {
		s.stager.Use(key)
	}

	st := s.gate.Select(r.Context())
	writeJSON(w, http.StatusOK, st)
}

func toView(m chat.Message) messageView {
	images := make([]string, 0, len(m.Images))
	for _, img := range m.Images {
		images = append(images, img.DataURL())
	}
	return messageView{
		ID:        m.ID,
		Role:      m.Role,
		Text:      m.Text,
		Images:    images,
		Timestamp: m.Timestamp,
		IsError:   m.IsError,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "dur_ms", time.Since(start).Milliseconds())
	})
}
