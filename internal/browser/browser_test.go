package browser

import (
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/tablesniff/internal/dom"
)

func TestParseStealthLevel(t *testing.T) {
	cases := []struct {
		in   string
		want StealthLevel
		err  bool
	}{
		{"", LevelAuto, false},
		{"auto", LevelAuto, false},
		{"HTTP", LevelHTTP, false},
		{"headless", LevelHeadless, false},
		{"headful", LevelHeadful, false},
		{"-1", LevelAuto, false},
		{"0", LevelHTTP, false},
		{"2", LevelHeadful, false},
		{"3", LevelAuto, true},
		{"stealthy", LevelAuto, true},
	}
	for _, c := range cases {
		got, err := ParseStealthLevel(c.in)
		if (err != nil) != c.err {
			t.Errorf("ParseStealthLevel(%q) error = %v, want error %v", c.in, err, c.err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseStealthLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if LevelHeadless.String() != "headless" || LevelAuto.String() != "auto" {
		t.Error("String() mismatch")
	}
}

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true, "media": true}
	cases := map[string]bool{
		"Image":      true,
		"Font":       true,
		"Media":      true,
		"Stylesheet": false,
		"Document":   false,
		"XHR":        false,
	}
	for typ, want := range cases {
		if got := shouldBlock(set, typ); got != want {
			t.Errorf("shouldBlock(%q) = %v, want %v", typ, got, want)
		}
	}
}

func TestMapErr(t *testing.T) {
	detached := []string{
		"eval js error: Error: " + detachedMarker,
		"{-32000 Could not find object with given id}",
		"{-32000 Cannot find context with specified id}",
	}
	for _, msg := range detached {
		if err := mapErr(errors.New(msg)); !errors.Is(err, dom.ErrDetached) {
			t.Errorf("mapErr(%q) = %v, want ErrDetached", msg, err)
		}
	}
	other := mapErr(errors.New("websocket closed"))
	if errors.Is(other, dom.ErrDetached) || !strings.Contains(other.Error(), "websocket closed") {
		t.Errorf("unrelated error mapped to %v", other)
	}
}

func TestObserverScriptUsesBinding(t *testing.T) {
	if !strings.Contains(observerScript, "window."+mutationBinding) {
		t.Error("observer script does not call the binding")
	}
	if !strings.Contains(observerScript, "childList: true, subtree: true") {
		t.Error("observer must watch the whole subtree for child changes")
	}
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.MemoryLimit != 1<<30 || m.cfg.XvfbDisplay != ":99" || m.cfg.NavigateTimeout <= 0 || m.cfg.Logger == nil {
		t.Errorf("defaults not applied: %+v", m.cfg)
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Browser(t.Context()); err == nil {
		t.Error("closed manager handed out a browser")
	}
}
