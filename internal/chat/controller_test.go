package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"nanograph/internal/gemini"
	"nanograph/internal/media"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []gemini.Request
	result   gemini.Result
	err      error
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeGenerator) Generate(ctx context.Context, req gemini.Request) (gemini.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.result, f.err
}

func (f *fakeGenerator) lastRequest(t *testing.T) gemini.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("generator was not called")
	}
	return f.requests[len(f.requests)-1]
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("m%d", n)
	}
}

func newTestController(gen Generator) *Controller {
	return NewController(Options{Generator: gen, NewID: sequentialIDs()})
}

func TestNewControllerSeedsWelcome(t *testing.T) {
	c := newTestController(&fakeGenerator{})

	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 seeded message, got %d", len(msgs))
	}
	if msgs[0].ID != WelcomeID || msgs[0].Role != RoleModel || msgs[0].Text != WelcomeText {
		t.Errorf("welcome = %+v", msgs[0])
	}
	if c.Busy() {
		t.Error("new controller should be idle")
	}
	if c.Config() != gemini.DefaultGenerationConfig() {
		t.Errorf("config = %+v, want defaults", c.Config())
	}
}

func TestSendTextOnly(t *testing.T) {
	gen := &fakeGenerator{result: gemini.Result{Text: "done", Images: []media.Image{{MimeType: "image/png", Data: "AAA"}}}}
	c := newTestController(gen)

	reply, err := c.Send(context.Background(), "  a red cube  ", nil)
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	user := msgs[1]
	if user.Role != RoleUser || user.Text != "a red cube" || len(user.Images) != 0 {
		t.Errorf("user turn = %+v", user)
	}

	model := msgs[2]
	if model.Role != RoleModel || model.Text != "done" || len(model.Images) != 1 || model.IsError {
		t.Errorf("model turn = %+v", model)
	}
	if reply.ID != model.ID {
		t.Errorf("returned reply %q is not the appended turn %q", reply.ID, model.ID)
	}

	req := gen.lastRequest(t)
	if req.Prompt != "a red cube" || req.Reference != nil {
		t.Errorf("request = %+v", req)
	}
	if c.Busy() {
		t.Error("controller should be idle after send")
	}
}

func TestSendWithReference(t *testing.T) {
	gen := &fakeGenerator{result: gemini.Result{Images: []media.Image{{MimeType: "image/png", Data: "OUT"}}}}
	c := newTestController(gen)
	ref := media.Image{MimeType: "image/jpeg", Data: "REF"}

	if _, err := c.Send(context.Background(), "", &ref); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	msgs := c.Messages()
	user := msgs[1]
	if len(user.Images) != 1 || user.Images[0] != ref {
		t.Errorf("user images = %+v, want the reference", user.Images)
	}

	req := gen.lastRequest(t)
	if req.Reference == nil || *req.Reference != ref {
		t.Errorf("request reference = %+v", req.Reference)
	}
	if msgs[2].Text != imageReadyText {
		t.Errorf("model text = %q, want image placeholder", msgs[2].Text)
	}
}

func TestSendPlaceholders(t *testing.T) {
	tests := []struct {
		name       string
		result     gemini.Result
		wantText   string
		wantImages int
	}{
		{"nothing returned", gemini.Result{}, noImageText, 0},
		{"images without text", gemini.Result{Images: []media.Image{{Data: "A"}, {Data: "B"}}}, imageReadyText, 2},
		{"text wins", gemini.Result{Text: "look", Images: []media.Image{{Data: "A"}}}, "look", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestController(&fakeGenerator{result: tt.result})
			reply, err := c.Send(context.Background(), "go", nil)
			if err != nil {
				t.Fatal(err)
			}
			if reply.Text != tt.wantText {
				t.Errorf("text = %q, want %q", reply.Text, tt.wantText)
			}
			if len(reply.Images) != tt.wantImages {
				t.Errorf("images = %d, want %d", len(reply.Images), tt.wantImages)
			}
		})
	}
}

func TestSendEmptyIsNoop(t *testing.T) {
	gen := &fakeGenerator{}
	c := newTestController(gen)

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := c.Send(context.Background(), text, nil); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Send(%q) err = %v, want ErrEmptyInput", text, err)
		}
	}
	if _, err := c.Send(context.Background(), "", &media.Image{}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("empty reference err = %v, want ErrEmptyInput", err)
	}

	if c.Len() != 1 {
		t.Errorf("store grew to %d on empty sends", c.Len())
	}
	if len(gen.requests) != 0 {
		t.Error("generator called for empty input")
	}
}

func TestSendWhileBusyIsRejected(t *testing.T) {
	gen := &fakeGenerator{block: make(chan struct{}), started: make(chan struct{})}
	c := newTestController(gen)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Send(context.Background(), "first", nil)
	}()
	<-gen.started

	if !c.Busy() {
		t.Fatal("controller should be busy while a request is outstanding")
	}
	if _, err := c.Send(context.Background(), "second", nil); !errors.Is(err, ErrBusy) {
		t.Errorf("second Send err = %v, want ErrBusy", err)
	}
	if c.Len() != 2 {
		t.Errorf("store length = %d, want welcome + pending user turn", c.Len())
	}

	close(gen.block)
	<-done

	if c.Busy() {
		t.Error("controller should be idle after completion")
	}
	if c.Len() != 3 {
		t.Errorf("store length = %d, want 3", c.Len())
	}
}

func TestSendFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	c := newTestController(gen)

	reply, err := c.Send(context.Background(), "a red cube", nil)
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if !reply.IsError {
		t.Error("reply should be flagged as error")
	}
	if !strings.HasPrefix(reply.Text, "Error: quota exceeded.") || !strings.Contains(reply.Text, "re-selecting your API key") {
		t.Errorf("error text = %q", reply.Text)
	}

	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	errorTurns := 0
	for _, m := range msgs {
		if m.IsError {
			errorTurns++
		}
	}
	if errorTurns != 1 {
		t.Errorf("error turns = %d, want 1", errorTurns)
	}
	if msgs[1].Role != RoleUser || msgs[2].Role != RoleModel {
		t.Error("transcript should stay user/model paired")
	}
	if c.Busy() {
		t.Error("busy flag not cleared after failure")
	}
}

type panicGenerator struct{}

func (panicGenerator) Generate(context.Context, gemini.Request) (gemini.Result, error) {
	panic("boom")
}

func TestPanicBecomesErrorTurn(t *testing.T) {
	c := newTestController(panicGenerator{})

	reply, err := c.Send(context.Background(), "x", nil)
	if err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if c.Busy() {
		t.Error("busy flag must be cleared after a panicking generator")
	}
	if !reply.IsError || !strings.Contains(reply.Text, "generator panic: boom") {
		t.Errorf("reply = %+v, want error turn", reply)
	}

	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want welcome + user + model", len(msgs))
	}
	if msgs[1].Role != RoleUser || msgs[2].Role != RoleModel {
		t.Errorf("roles = %s, %s", msgs[1].Role, msgs[2].Role)
	}
}

func TestNilGeneratorProducesErrorTurn(t *testing.T) {
	c := newTestController(nil)
	reply, err := c.Send(context.Background(), "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !reply.IsError {
		t.Error("expected error turn without a generator")
	}
}

func TestConfigSnapshotPerSend(t *testing.T) {
	gen := &fakeGenerator{block: make(chan struct{}), started: make(chan struct{})}
	c := newTestController(gen)

	want := gemini.GenerationConfig{AspectRatio: gemini.AspectWide, ImageSize: gemini.Size2K, GoogleSearch: true}
	if err := c.SetConfig(want); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Send(context.Background(), "first", nil)
	}()
	<-gen.started

	if _, err := c.UpdateConfig(func(cfg *gemini.GenerationConfig) { cfg.ImageSize = gemini.Size4K }); err != nil {
		t.Fatal(err)
	}
	close(gen.block)
	<-done

	if got := gen.lastRequest(t).Config; got != want {
		t.Errorf("in-flight request saw %+v, want snapshot %+v", got, want)
	}
	if c.Config().ImageSize != gemini.Size4K {
		t.Error("config update was lost")
	}
}

func TestSetConfigValidates(t *testing.T) {
	c := newTestController(&fakeGenerator{})

	if err := c.SetConfig(gemini.GenerationConfig{AspectRatio: "2:1", ImageSize: gemini.Size1K}); err == nil {
		t.Error("expected validation error")
	}
	cfg, err := c.UpdateConfig(func(cfg *gemini.GenerationConfig) { cfg.ImageSize = "9K" })
	if err == nil {
		t.Error("expected validation error from UpdateConfig")
	}
	if cfg != gemini.DefaultGenerationConfig() {
		t.Errorf("config changed after invalid update: %+v", cfg)
	}
}

func TestInvalidInitialConfigFallsBack(t *testing.T) {
	c := NewController(Options{Config: gemini.GenerationConfig{AspectRatio: "7:3"}})
	if c.Config() != gemini.DefaultGenerationConfig() {
		t.Errorf("config = %+v, want defaults", c.Config())
	}
}

func TestSubscribe(t *testing.T) {
	gen := &fakeGenerator{result: gemini.Result{Text: "ok"}}
	c := newTestController(gen)

	events, cancel := c.Subscribe()
	defer cancel()

	if _, err := c.Send(context.Background(), "hi", nil); err != nil {
		t.Fatal(err)
	}

	var got []EventType
	timeout := time.After(time.Second)
	for len(got) < 4 {
		select {
		case ev := <-events:
			got = append(got, ev.Type)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}

	want := []EventType{EventMessage, EventBusy, EventMessage, EventBusy}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Error("channel should be closed after cancel")
	}
}
