// Package mediagroup coalesces the photos of a Telegram album into one send.
package mediagroup

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

type Item struct {
	ChatID       int64
	MessageID    int
	MediaGroupID string
	Caption      string
	FileID       string
}

// Album is a flushed media group. FileIDs are in message order.
type Album struct {
	ChatID  int64
	Caption string
	FileIDs []string
}

// Reference is the file used as the conversation's reference image.
func (a Album) Reference() string {
	if len(a.FileIDs) == 0 {
		return ""
	}
	return a.FileIDs[0]
}

type Options struct {
	Debounce time.Duration
	OnFlush  func(Album)
}

type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	onFlush  func(Album)
	groups   map[string]*pendingGroup
}

type pendingGroup struct {
	chatID  int64
	caption string
	items   []Item
	timer   *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 1200 * time.Millisecond
	}

	return &Aggregator{
		debounce: debounce,
		onFlush:  opts.OnFlush,
		groups:   make(map[string]*pendingGroup),
	}
}

// Add buffers item; the album flushes once no new item arrived for the debounce.
func (a *Aggregator) Add(item Item) bool {
	if item.MediaGroupID == "" || item.FileID == "" {
		return false
	}

	key := makeKey(item.ChatID, item.MediaGroupID)

	a.mu.Lock()
	defer a.mu.Unlock()

	pg, ok := a.groups[key]
	if !ok {
		pg = &pendingGroup{chatID: item.ChatID}
		a.groups[key] = pg
	}
	pg.items = append(pg.items, item)
	if item.Caption != "" {
		pg.caption = item.Caption
	}

	if pg.timer != nil {
		pg.timer.Stop()
	}
	pg.timer = time.AfterFunc(a.debounce, func() {
		a.flush(key)
	})
	return true
}

func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Stop drops every pending album without flushing it.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, pg := range a.groups {
		if pg.timer != nil {
			pg.timer.Stop()
		}
		delete(a.groups, key)
	}
}

func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	pg, ok := a.groups[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.groups, key)
	album := pg.album()
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(album)
	}
}

func (pg *pendingGroup) album() Album {
	items := make([]Item, len(pg.items))
	copy(items, pg.items)
	sort.SliceStable(items, func(i, j int) bool { return items[i].MessageID < items[j].MessageID })

	fileIDs := make([]string, 0, len(items))
	for _, it := range items {
		fileIDs = append(fileIDs, it.FileID)
	}
	return Album{ChatID: pg.chatID, Caption: pg.caption, FileIDs: fileIDs}
}

func makeKey(chatID int64, mediaGroupID string) string {
	return fmt.Sprintf("%d:%s", chatID, mediaGroupID)
}
