package chat

import (
	"reflect"
	"testing"
	"time"

	"nanograph/internal/media"
)

func TestStoreAppendOrder(t *testing.T) {
	s := NewStore()
	base := time.Now()

	s.Append(Message{ID: "b", Role: RoleUser, Text: "later", Timestamp: base.Add(time.Minute)})
	s.Append(Message{ID: "a", Role: RoleModel, Text: "earlier", Timestamp: base})

	msgs := s.Messages()
	if len(msgs) != 2 || msgs[0].ID != "b" || msgs[1].ID != "a" {
		t.Errorf("store reordered messages: %+v", msgs)
	}
}

func TestStoreReadsAreIdempotent(t *testing.T) {
	s := NewStore(Message{ID: "1", Role: RoleModel, Text: "hi", Images: []media.Image{{MimeType: "image/png", Data: "AAA"}}})

	first := s.Messages()
	second := s.Messages()
	if !reflect.DeepEqual(first, second) {
		t.Error("two reads without a send differ")
	}
}

func TestStoreIsolatesCallers(t *testing.T) {
	images := []media.Image{{MimeType: "image/png", Data: "AAA"}}
	s := NewStore()
	s.Append(Message{ID: "1", Role: RoleModel, Images: images})

	images[0].Data = "mutated"
	msgs := s.Messages()
	msgs[0].Text = "changed"
	msgs[0].Images[0].Data = "changed"

	got, ok := s.Get("1")
	if !ok {
		t.Fatal("Get(1) not found")
	}
	if got.Text != "" || got.Images[0].Data != "AAA" {
		t.Errorf("stored turn was mutated: %+v", got)
	}
}

func TestStoreGetAndLast(t *testing.T) {
	s := NewStore()
	if _, ok := s.Last(); ok {
		t.Error("Last on empty store should report false")
	}

	s.Append(Message{ID: "x"})
	s.Append(Message{ID: "y"})

	if last, ok := s.Last(); !ok || last.ID != "y" {
		t.Errorf("Last() = %+v, %v", last, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("Get(missing) should report false")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}
