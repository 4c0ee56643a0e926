package ui

import (
	"strings"
	"testing"

	"derivesort/internal/driver"
)

func TestApplyEventTracksFiles(t *testing.T) {
	events := make(chan driver.Event)
	m := NewProgressModel("derivesort", events).(*progressModel)

	m.applyEvent(driver.Event{Stage: driver.StageWalk, Status: driver.StatusWorking})
	if !m.walking {
		t.Fatal("walk event did not set walking")
	}
	m.applyEvent(driver.Event{Stage: driver.StageWalk, Status: driver.StatusDone})
	for _, f := range []string{"a.rs", "b.rs", "c.rs"} {
		m.applyEvent(driver.Event{File: f, Stage: driver.StageFormat, Status: driver.StatusQueued})
	}
	m.applyEvent(driver.Event{File: "a.rs", Stage: driver.StageFormat, Status: driver.StatusDone, Changed: true})
	m.applyEvent(driver.Event{File: "b.rs", Stage: driver.StageFormat, Status: driver.StatusDone, Cached: true})
	m.applyEvent(driver.Event{File: "c.rs", Stage: driver.StageFormat, Status: driver.StatusWorking})

	want := []string{statusRewritten, statusCached, statusWorking}
	for i, item := range m.items {
		if item.status != want[i] {
			t.Errorf("item %s status = %q, want %q", item.path, item.status, want[i])
		}
	}
	if m.finished != 2 || m.rewritten != 1 {
		t.Fatalf("finished=%d rewritten=%d, want 2 and 1", m.finished, m.rewritten)
	}

	m.done = true
	view := m.View()
	if !strings.Contains(view, "1/3 rewritten") {
		t.Fatalf("unexpected header in view:\n%s", view)
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in    string
		width int
		want  string
	}{
		{"src/lib.rs", 20, "src/lib.rs"},
		{"src/very/long/path/lib.rs", 10, "src/ver..."},
		{"abcdef", 3, "abc"},
		{"abc", 0, "abc"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.width); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}
