package mediagroup

import (
	"fmt"
	"sync"
	"time"
)

// Telegram albums hold at most ten items.
const maxGroupItems = 10

// Item is one photo of an album as it arrives.
type Item struct {
	ChatID       int64
	UserID       int64
	Username     string
	MediaGroupID string
	Caption      string
	FileID       string
	// FileSize is the size Telegram reported for the chosen resolution.
	FileSize int
}

type Photo struct {
	FileID   string
	FileSize int
}

// Group is a complete album in arrival order.
type Group struct {
	ChatID   int64
	UserID   int64
	Username string
	Caption  string
	Photos   []Photo
}

// Primary is the photo the workflow uploads; the rest of an album is
// reported back to the user as ignored.
func (g Group) Primary() (Photo, bool) {
	if len(g.Photos) == 0 {
		return Photo{}, false
	}
	return g.Photos[0], true
}

type Options struct {
	Debounce time.Duration
	OnFlush  func(Group)
}

type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	onFlush  func(Group)
	groups   map[string]*pendingGroup
	closed   bool
}

type pendingGroup struct {
	group Group
	timer *time.Timer
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

// Add buffers item until no other photo of the same album arrived for the
// debounce window.
func (a *Aggregator) Add(item Item) {
	if item.MediaGroupID == "" || item.FileID == "" {
		return
	}

	key := makeKey(item.ChatID, item.MediaGroupID)
	photo := Photo{FileID: item.FileID, FileSize: item.FileSize}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	pg, ok := a.groups[key]
	if !ok {
		pg = &pendingGroup{
			group: Group{
				ChatID:   item.ChatID,
				UserID:   item.UserID,
				Username: item.Username,
				Caption:  item.Caption,
				Photos:   []Photo{photo},
			},
		}
		a.groups[key] = pg
	} else {
		if len(pg.group.Photos) < maxGroupItems {
			pg.group.Photos = append(pg.group.Photos, photo)
		}
		if item.Caption != "" {
			pg.group.Caption = item.Caption
		}
	}

	if pg.timer != nil {
		pg.timer.Stop()
	}
	pg.timer = time.AfterFunc(a.debounce, func() {
		a.flush(key)
	})
}

// Pending reports how many albums are still waiting for their debounce.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

// Close drops every buffered album and ignores later items.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
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
	group := pg.group
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(group)
	}
}

func makeKey(chatID int64, mediaGroupID string) string {
	return fmt.Sprintf("%d:%s", chatID, mediaGroupID)
}
