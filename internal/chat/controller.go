package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nanograph/internal/gemini"
	"nanograph/internal/logging"
	"nanograph/internal/media"
)

var (
	ErrBusy       = errors.New("a generation is already in progress")
	ErrEmptyInput = errors.New("nothing to send")
)

var errNoGenerator = errors.New("no generator configured")

// Generator is the one network boundary of a conversation.
type Generator interface {
	Generate(ctx context.Context, req gemini.Request) (gemini.Result, error)
}

type Options struct {
	Generator Generator
	// Config is the initial generation config; the zero value means defaults.
	Config gemini.GenerationConfig
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// Controller owns one conversation: its transcript, its generation config and
// the busy flag that allows a single send in flight.
type Controller struct {
	gen    Generator
	store  *Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu     sync.Mutex
	busy   bool
	config gemini.GenerationConfig

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}

	cfg := opts.Config
	if cfg.Validate() != nil {
		cfg = gemini.DefaultGenerationConfig()
	}

	c := &Controller{
		gen:    opts.Generator,
		logger: logger,
		now:    now,
		newID:  newID,
		config: cfg,
		subs:   make(map[int]chan Event),
	}
	c.store = NewStore(Message{
		ID:        WelcomeID,
		Role:      RoleModel,
		Text:      WelcomeText,
		Images:    []media.Image{},
		Timestamp: now(),
	})
	return c
}

// Send runs one request/response cycle. It returns ErrEmptyInput or ErrBusy
// without touching the transcript; otherwise it returns the appended model turn,
// which carries IsError when generation failed.
func (c *Controller) Send(ctx context.Context, text string, ref *media.Image) (Message, error) {
	text = strings.TrimSpace(text)
	hasRef := ref != nil && !ref.IsZero()
	if text == "" && !hasRef {
		return Message{}, ErrEmptyInput
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return Message{}, ErrBusy
	}
	c.busy = true
	cfg := c.config
	c.mu.Unlock()

	defer c.setIdle()

	user := Message{
		ID:        c.newID(),
		Role:      RoleUser,
		Text:      text,
		Images:    []media.Image{},
		Timestamp: c.now(),
	}
	var reference *media.Image
	if hasRef {
		refCopy := *ref
		reference = &refCopy
		user.Images = append(user.Images, refCopy)
	}
	c.append(user)
	c.publish(Event{Type: EventBusy, Busy: true})

	reply := c.generate(ctx, gemini.Request{Prompt: text, Reference: reference, Config: cfg})
	c.append(reply)
	return reply.clone(), nil
}

func (c *Controller) generate(ctx context.Context, req gemini.Request) Message {
	result, err := c.call(ctx, req)
	if err != nil {
		c.logger.Warn("generation failed", "err", err)
		return Message{
			ID:        c.newID(),
			Role:      RoleModel,
			Text:      errorText(err),
			Images:    []media.Image{},
			Timestamp: c.now(),
			IsError:   true,
		}
	}

	text := result.Text
	if text == "" {
		if len(result.Images) > 0 {
			text = imageReadyText
		} else {
			text = noImageText
		}
	}

	images := make([]media.Image, len(result.Images))
	copy(images, result.Images)

	return Message{
		ID:        c.newID(),
		Role:      RoleModel,
		Text:      text,
		Images:    images,
		Timestamp: c.now(),
	}
}

// call turns a generator panic into an error so every user turn still gets a reply.
func (c *Controller) call(ctx context.Context, req gemini.Request) (result gemini.Result, err error) {
	if c.gen == nil {
		return gemini.Result{}, errNoGenerator
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("generator panic", "panic", r)
			result, err = gemini.Result{}, fmt.Errorf("generator panic: %v", r)
		}
	}()
	return c.gen.Generate(ctx, req)
}

func (c *Controller) setIdle() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
	c.publish(Event{Type: EventBusy, Busy: false})
}

func (c *Controller) append(m Message) {
	c.store.Append(m)
	msg := m.clone()
	c.publish(Event{Type: EventMessage, Message: &msg})
}

func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *Controller) Messages() []Message {
	return c.store.Messages()
}

func (c *Controller) Len() int {
	return c.store.Len()
}

func (c *Controller) Message(id string) (Message, bool) {
	return c.store.Get(id)
}

func (c *Controller) LastMessage() (Message, bool) {
	return c.store.Last()
}

func (c *Controller) Config() gemini.GenerationConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// SetConfig replaces the config. An in-flight send keeps the snapshot it took.
func (c *Controller) SetConfig(cfg gemini.GenerationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()

	c.publish(Event{Type: EventConfig, Config: cfg})
	return nil
}

// UpdateConfig applies fn to a copy of the current config and stores it if valid.
func (c *Controller) UpdateConfig(fn func(*gemini.GenerationConfig)) (gemini.GenerationConfig, error) {
	c.mu.Lock()
	cfg := c.config
	fn(&cfg)
	if err := cfg.Validate(); err != nil {
		c.mu.Unlock()
		return c.Config(), err
	}
	c.config = cfg
	c.mu.Unlock()

	c.publish(Event{Type: EventConfig, Config: cfg})
	return cfg, nil
}
