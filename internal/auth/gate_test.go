package auth

import (
	"context"
	"errors"
	"testing"
)

type fakeHost struct {
	selected  bool
	checkErr  error
	selectErr error
	opened    int
}

func (h *fakeHost) HasSelectedCredential(ctx context.Context) (bool, error) {
	return h.selected, h.checkErr
}

func (h *fakeHost) OpenSelectCredential(ctx context.Context) error {
	h.opened++
	if h.selectErr != nil {
		return h.selectErr
	}
	h.selected = true
	return nil
}

func TestGateCheck(t *testing.T) {
	tests := []struct {
		name      string
		host      Host
		wantAuth  bool
		wantError string
	}{
		{"no host", nil, false, ""},
		{"not selected", &fakeHost{}, false, ""},
		{"selected", &fakeHost{selected: true}, true, ""},
		{"check fails", &fakeHost{checkErr: errors.New("boom")}, false, checkFailedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(tt.host, nil)
			st := g.Check(context.Background())
			if st.Authenticated != tt.wantAuth || st.Error != tt.wantError || st.Checking {
				t.Errorf("Check() = %+v, want auth=%v error=%q", st, tt.wantAuth, tt.wantError)
			}
			if g.State() != st {
				t.Errorf("State() = %+v, want %+v", g.State(), st)
			}
		})
	}
}

func TestGateSelect(t *testing.T) {
	host := &fakeHost{}
	g := NewGate(host, nil)

	if g.Check(context.Background()).Authenticated {
		t.Fatal("gate should start closed")
	}

	st := g.Select(context.Background())
	if !st.Authenticated || st.Error != "" {
		t.Errorf("Select() = %+v, want authenticated", st)
	}
	if host.opened != 1 {
		t.Errorf("host opened %d times, want 1", host.opened)
	}
}

func TestGateSelectNotFound(t *testing.T) {
	host := &fakeHost{selectErr: errors.New("Requested entity was not found.")}
	g := NewGate(host, nil)

	st := g.Select(context.Background())
	if st.Authenticated {
		t.Error("gate should stay closed")
	}
	if st.Error != notFoundMessage {
		t.Errorf("error = %q, want targeted not-found message", st.Error)
	}
}

func TestGateSelectOtherError(t *testing.T) {
	g := NewGate(&fakeHost{selectErr: errors.New("dialog closed")}, nil)

	st := g.Select(context.Background())
	if st.Authenticated || st.Error != "dialog closed" {
		t.Errorf("Select() = %+v", st)
	}
}

func TestGateSelectWithoutHost(t *testing.T) {
	g := NewGate(nil, nil)
	if st := g.Select(context.Background()); st.Authenticated {
		t.Error("gate without host must stay closed")
	}
}

func TestKeyringMask(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "Not Connected"},
		{"short", "Not Connected"},
		{"AIzaSyABCDEFGHIJKLMNOP123456", "AIzaSyAB...123456"},
	}
	for _, tt := range tests {
		if got := NewKeyring(tt.key).Mask(); got != tt.want {
			t.Errorf("Mask(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
