package handlers

import "sync"

// statusEditor writes narration lines to the status card from its own
// goroutine, so a slow edit never delays the operation being narrated.
// While one edit is in flight newer lines are dropped.
type statusEditor struct {
	tg     Messenger
	chatID int64
	msgID  int
	lines  chan string

	mu      sync.Mutex
	stopped bool
	busy    bool
}

func startStatusEditor(tg Messenger, chatID int64, msgID int) *statusEditor {
	e := &statusEditor{tg: tg, chatID: chatID, msgID: msgID, lines: make(chan string, 1)}
	go e.loop()
	return e
}

func (e *statusEditor) loop() {
	for text := range e.lines {
		e.mu.Lock()
		if e.stopped {
			e.mu.Unlock()
			return
		}
		e.busy = true
		e.mu.Unlock()

		_ = e.tg.EditText(e.chatID, e.msgID, text)

		e.mu.Lock()
		e.busy = false
		e.mu.Unlock()
	}
}

func (e *statusEditor) show(text string) {
	select {
	case e.lines <- text:
	default:
	}
}

// stop ends narration without waiting. It reports whether an edit is still
// in flight; that edit may land after anything sent to the card next.
func (e *statusEditor) stop() bool {
	e.mu.Lock()
	e.stopped = true
	inFlight := e.busy
	e.mu.Unlock()
	close(e.lines)
	return inFlight
}
