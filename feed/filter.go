package feed

import (
	"strings"
	"time"

	"github.com/kasuganosora/moodring/server/model"
)

// RecentWindow is the span kept by Filter.Recent.
const RecentWindow = 7 * 24 * time.Hour

// Filter narrows a built feed or an author's history. The zero value keeps
// everything.
type Filter struct {
	Recent  bool
	Emotion model.EmotionalState
	Keyword string
}

// Apply returns the entries that pass every set criterion, in order.
func (f Filter) Apply(entries []Entry, now time.Time) []Entry {
	out := entries
	if f.Recent {
		out = FilterRecent(out, now.Add(-RecentWindow))
	}
	if f.Emotion != "" {
		out = FilterEmotion(out, f.Emotion)
	}
	if f.Keyword != "" {
		out = FilterReason(out, f.Keyword)
	}
	return out
}

// Events is Apply for plain mood events.
func (f Filter) Events(events []model.MoodEvent, now time.Time) []model.MoodEvent {
	since := now.Add(-RecentWindow)
	out := make([]model.MoodEvent, 0, len(events))
	for i := range events {
		if f.match(&events[i], since) {
			out = append(out, events[i])
		}
	}
	return out
}

func (f Filter) match(ev *model.MoodEvent, since time.Time) bool {
	if f.Recent && !stampedAfter(ev, since) {
		return false
	}
	if f.Emotion != "" && ev.EmotionalState != f.Emotion {
		return false
	}
	return f.Keyword == "" || reasonContains(ev, strings.ToLower(f.Keyword))
}

// FilterRecent keeps events stamped after since. Unstamped events are
// dropped.
func FilterRecent(entries []Entry, since time.Time) []Entry {
	return keep(entries, func(e *Entry) bool { return stampedAfter(&e.MoodEvent, since) })
}

// FilterEmotion keeps events recorded with state.
func FilterEmotion(entries []Entry, state model.EmotionalState) []Entry {
	return keep(entries, func(e *Entry) bool { return e.EmotionalState == state })
}

// FilterReason keeps events whose reason contains keyword, ignoring case.
func FilterReason(entries []Entry, keyword string) []Entry {
	keyword = strings.ToLower(keyword)
	return keep(entries, func(e *Entry) bool { return reasonContains(&e.MoodEvent, keyword) })
}

func stampedAfter(ev *model.MoodEvent, since time.Time) bool {
	return ev.Timestamp != nil && ev.Timestamp.After(since)
}

// reasonContains expects keyword already lowered.
func reasonContains(ev *model.MoodEvent, keyword string) bool {
	return strings.Contains(strings.ToLower(ev.Reason), keyword)
}

func keep(entries []Entry, pred func(*Entry) bool) []Entry {
	out := make([]Entry, 0, len(entries))
	for i := range entries {
		if pred(&entries[i]) {
			out = append(out, entries[i])
		}
	}
	return out
}
