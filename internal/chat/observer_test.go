package chat

import (
	"testing"
	"time"

	"github.com/danmuck/peerchat/internal/testutil/testlog"
)

func TestChatLogKeepsNewestEntries(t *testing.T) {
	testlog.Start(t)
	l := NewChatLog(2)
	l.OnChat("B-1", "one")
	l.AppendLocal("A-1", "two")
	l.OnChat("B-1", "three")

	entries := l.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Content != "two" || !entries[0].Local || entries[1].Content != "three" || entries[1].Local {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestChatLogPresence(t *testing.T) {
	testlog.Start(t)
	l := NewChatLog(0)
	fixed := time.Unix(100, 0)
	l.now = func() time.Time { return fixed }

	l.OnPresence("C-2", true)
	l.OnPresence("B-1", true)
	l.OnPresence("C-2", false)

	got := l.Presence()
	if len(got) != 2 || got[0].SessionID != "B-1" || got[1].SessionID != "C-2" {
		t.Fatalf("unexpected presence order: %+v", got)
	}
	if !got[0].Online || got[1].Online || !got[1].Since.Equal(fixed) {
		t.Fatalf("unexpected presence state: %+v", got)
	}
	if !l.Online("B-1") || l.Online("C-2") || l.Online("nobody") {
		t.Fatalf("Online disagrees with table")
	}
}

func TestObserversFanOut(t *testing.T) {
	testlog.Start(t)
	first, second := &recordingObserver{}, &recordingObserver{}
	obs := Observers{first, nil, second}
	obs.OnChat("B-1", "hi")
	obs.OnPresence("B-1", true)

	for _, o := range []*recordingObserver{first, second} {
		chats, presence := o.snapshot()
		if len(chats) != 1 || len(presence) != 1 {
			t.Fatalf("observer missed events: %v %v", chats, presence)
		}
	}
}
