package dirtyset

import (
	"context"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
)

type fakeWatcher struct {
	events chan fsnotify.Event
	errs   chan error
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events: make(chan fsnotify.Event, 8),
		errs:   make(chan error, 8),
	}
}

func (f *fakeWatcher) Add(string) error                    { return nil }
func (f *fakeWatcher) Remove(string) error                 { return nil }
func (f *fakeWatcher) Close() error                        { close(f.events); close(f.errs); return nil }
func (f *fakeWatcher) Events() <-chan fsnotify.Event        { return f.events }
func (f *fakeWatcher) Errors() <-chan error                 { return f.errs }

func TestFeedClassifiesEvents(t *testing.T) {
	idx := &fakeIndex{paths: map[string]bool{"old.txt": true}}
	tr := New(idx, nil, nil)
	fw := newFakeWatcher()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Feed(ctx, fw, tr, "", nil)
		close(done)
	}()

	fw.events <- fsnotify.Event{Name: "new.txt", Op: fsnotify.Create}
	fw.events <- fsnotify.Event{Name: "old.txt", Op: fsnotify.Remove}

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.ElementsMatch(t, []string{"new.txt", "old.txt"}, tr.Dirty())
}
