package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nanograph/internal/media"
)

func TestBuildRequestOrdersImageBeforeText(t *testing.T) {
	ref := media.Image{Data: "data:image/jpeg;base64,QUJD"}
	req, err := buildRequest(Request{
		Prompt:    "make it blue",
		Reference: &ref,
		Config:    DefaultGenerationConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}

	parts := req.Contents[0].Parts
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if parts[0].InlineData == nil {
		t.Fatal("first part should carry the reference image")
	}
	if parts[0].InlineData.Data != "QUJD" {
		t.Errorf("inline data = %q, want header stripped", parts[0].InlineData.Data)
	}
	if parts[0].InlineData.MimeType != "image/jpeg" {
		t.Errorf("mime = %q, want image/jpeg", parts[0].InlineData.MimeType)
	}
	if parts[1].Text != "make it blue" || parts[1].InlineData != nil {
		t.Errorf("second part = %+v, want text part", parts[1])
	}
}

func TestBuildRequestDefaultsReferenceMime(t *testing.T) {
	ref := media.Image{Data: "QUJD"}
	req, err := buildRequest(Request{Prompt: "x", Reference: &ref, Config: DefaultGenerationConfig()})
	if err != nil {
		t.Fatal(err)
	}

	if got := req.Contents[0].Parts[0].InlineData.MimeType; got != "image/png" {
		t.Errorf("mime = %q, want image/png", got)
	}
}

func TestBuildRequestTextOnly(t *testing.T) {
	req, err := buildRequest(Request{Prompt: "a red cube", Config: DefaultGenerationConfig()})
	if err != nil {
		t.Fatal(err)
	}

	parts := req.Contents[0].Parts
	if len(parts) != 1 || parts[0].Text != "a red cube" {
		t.Fatalf("parts = %+v, want single text part", parts)
	}
}

func TestBuildRequestTools(t *testing.T) {
	tests := []struct {
		name       string
		search     bool
		wantTools  bool
		wantSearch bool
	}{
		{"search off omits tools", false, false, false},
		{"search on sends googleSearch", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GenerationConfig{AspectRatio: AspectWide, ImageSize: Size4K, GoogleSearch: tt.search}
			req, err := buildRequest(Request{Prompt: "p", Config: cfg})
			if err != nil {
				t.Fatal(err)
			}
			body, err := json.Marshal(req)
			if err != nil {
				t.Fatal(err)
			}

			var decoded map[string]json.RawMessage
			if err := json.Unmarshal(body, &decoded); err != nil {
				t.Fatal(err)
			}
			_, hasTools := decoded["tools"]
			if hasTools != tt.wantTools {
				t.Errorf("tools present = %v, want %v (body %s)", hasTools, tt.wantTools, body)
			}
			if got := strings.Contains(string(body), `"googleSearch":{}`); got != tt.wantSearch {
				t.Errorf("googleSearch present = %v, want %v", got, tt.wantSearch)
			}
			if !strings.Contains(string(body), `"imageConfig":{"aspectRatio":"16:9","imageSize":"4K"}`) {
				t.Errorf("imageConfig missing from %s", body)
			}
		})
	}
}

func TestParseResponse(t *testing.T) {
	raw := `{"candidates":[{"content":{"parts":[
		{"inlineData":{"data":"AAA","mimeType":"image/jpeg"}},
		{"text":"first"},
		{"functionCall":{"name":"ignored"}},
		{"inlineData":{"data":"BBB"}},
		{"text":"second"}
	]}},{"content":{"parts":[{"text":"other candidate"}]}}]}`

	var resp generateContentResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatal(err)
	}

	parts := parseResponse(resp)
	if len(parts) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(parts))
	}
	if _, ok := parts[0].(ImagePart); !ok {
		t.Errorf("parts[0] = %T, want ImagePart", parts[0])
	}

	result := collect(parts)
	if len(result.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(result.Images))
	}
	if result.Images[0].MimeType != "image/jpeg" || result.Images[0].Data != "AAA" {
		t.Errorf("images[0] = %+v", result.Images[0])
	}
	if result.Images[1].MimeType != "image/png" {
		t.Errorf("images[1] mime = %q, want default image/png", result.Images[1].MimeType)
	}
	if result.Text != "first\nsecond" {
		t.Errorf("text = %q, want joined text", result.Text)
	}
}

func TestParseResponseDropsInlineDataWithoutBytes(t *testing.T) {
	raw := `{"candidates":[{"content":{"parts":[
		{"inlineData":{"mimeType":"image/png"}},
		{"inlineData":{"data":"","mimeType":"image/png"}},
		{"text":"only text"}
	]}}]}`

	var resp generateContentResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatal(err)
	}

	result := collect(parseResponse(resp))
	if len(result.Images) != 0 {
		t.Errorf("images = %d, want none", len(result.Images))
	}
	if result.Text != "only text" {
		t.Errorf("text = %q", result.Text)
	}
}

func TestBuildRequestRejectsMalformedReference(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no comma", "data:image/jpeg;base64"},
		{"empty payload", "data:image/jpeg;base64,"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := media.Image{Data: tt.data}
			if _, err := buildRequest(Request{Prompt: "x", Reference: &ref, Config: DefaultGenerationConfig()}); err == nil {
				t.Fatal("expected an error instead of a text-only request")
			}
		})
	}
}

func TestClientGenerateMalformedReferenceSendsNothing(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := New(Options{Credentials: StaticKey("k"), BaseURL: srv.URL, HTTPClient: srv.Client()})
	ref := media.Image{Data: "data:image/jpeg;base64"}
	_, err := client.Generate(context.Background(), Request{Prompt: "p", Reference: &ref, Config: DefaultGenerationConfig()})
	if err == nil || !strings.Contains(err.Error(), "reference image") {
		t.Fatalf("err = %v, want reference image error", err)
	}
	if called {
		t.Error("provider should not be called with a malformed reference")
	}
}

func TestParseResponseEmpty(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no candidates", `{}`},
		{"no content", `{"candidates":[{}]}`},
		{"no parts", `{"candidates":[{"content":{"parts":[]}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp generateContentResponse
			if err := json.Unmarshal([]byte(tt.raw), &resp); err != nil {
				t.Fatal(err)
			}
			result := collect(parseResponse(resp))
			if result.Text != "" {
				t.Errorf("text = %q, want empty", result.Text)
			}
			if result.Images == nil || len(result.Images) != 0 {
				t.Errorf("images = %v, want empty non-nil", result.Images)
			}
		})
	}
}

func TestClientGenerate(t *testing.T) {
	var gotPath, gotKey string
	var gotBody generateContentRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("content-type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"inlineData":{"data":"AAA","mimeType":"image/png"}}]}}]}`)
	}))
	defer srv.Close()

	client := New(Options{
		Credentials: StaticKey("test-key"),
		BaseURL:     srv.URL,
		HTTPClient:  srv.Client(),
	})

	result, err := client.Generate(context.Background(), Request{Prompt: "a red cube", Config: DefaultGenerationConfig()})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}

	if gotPath != "/v1beta/models/"+DefaultModel+":generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Parts[0].Text != "a red cube" {
		t.Errorf("request body contents = %+v", gotBody.Contents)
	}
	if len(result.Images) != 1 || result.Text != "" {
		t.Errorf("result = %+v, want one image and no text", result)
	}
}

func TestClientGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`)
	}))
	defer srv.Close()

	client := New(Options{Credentials: StaticKey("k"), BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := client.Generate(context.Background(), Request{Prompt: "p", Config: DefaultGenerationConfig()})
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T is not *APIError", err)
	}
	if apiErr.Message != "Requested entity was not found." || apiErr.Status != "NOT_FOUND" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound should be true")
	}
}

func TestClientRequiresCredential(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := New(Options{Credentials: StaticKey(" "), BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := client.Generate(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
	if called {
		t.Error("provider should not be called without a key")
	}
}

func TestClientCheckModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1beta/models/custom-model" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"name":"models/custom-model"}`)
	}))
	defer srv.Close()

	client := New(Options{Credentials: StaticKey("k"), BaseURL: srv.URL, Model: "custom-model", HTTPClient: srv.Client()})
	if err := client.CheckModel(context.Background()); err != nil {
		t.Fatalf("CheckModel error: %v", err)
	}
}
