// Package driver watches agent output for prompts that need the user.
package driver

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/time/rate"
)

// Prompt kinds.
const (
	KindQuestion = "question"
	KindConfirm  = "confirm"
)

// Prompt is an interactive question the agent is waiting on.
type Prompt struct {
	Kind    string
	Text    string
	Options []string
}

var (
	// questionPattern matches patterns like "(y/n)", "(yes/no)", etc.
	questionPattern = regexp.MustCompile(`\(([yY])/([nN])\)|\(([yY]es)/([nN]o)\)`)

	// confirmPattern matches the agent's permission menus, e.g.
	// "Do you want to create foo.go?" or "Do you want to proceed?"
	confirmPattern = regexp.MustCompile(`Do you want to (?:proceed|make this edit|(?:create|write|delete|modify|update|remove|edit|overwrite|run) .+?)\?`)
)

// maxWindow bounds the recent text kept for matching.
const maxWindow = 4096

// Detector scans a session's output stream for prompts. Feed is called from
// the session read loop; a detector is not shared between sessions.
type Detector struct {
	mu      sync.Mutex
	window  strings.Builder
	limiter *rate.Limiter
	last    string
}

// NewDetector returns a detector that reports at most one prompt per
// interval. A zero interval disables rate limiting.
func NewDetector(interval time.Duration) *Detector {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Detector{limiter: rate.NewLimiter(limit, 1)}
}

// Feed adds a chunk of raw terminal output and reports a prompt if one has
// just appeared. The same prompt text is reported once until different
// prompt text shows up.
func (d *Detector) Feed(chunk []byte) (Prompt, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.window.WriteString(ansi.Strip(string(chunk)))
	if d.window.Len() > maxWindow {
		s := d.window.String()
		d.window.Reset()
		d.window.WriteString(s[len(s)-maxWindow:])
	}
	text := d.window.String()

	p, ok := match(text)
	if !ok || p.Text == d.last {
		return Prompt{}, false
	}
	if !d.limiter.Allow() {
		return Prompt{}, false
	}

	d.last = p.Text
	d.window.Reset()
	return p, true
}

func match(text string) (Prompt, bool) {
	// The most recent prompt on screen is the one that matters.
	if all := confirmPattern.FindAllString(text, -1); len(all) > 0 {
		return Prompt{
			Kind:    KindConfirm,
			Text:    collapse(all[len(all)-1]),
			Options: []string{"1", "2", "esc"},
		}, true
	}

	if all := questionPattern.FindAllStringSubmatchIndex(text, -1); len(all) > 0 {
		m := all[len(all)-1]
		options := []string{"y", "n"}
		if m[6] >= 0 {
			options = []string{"yes", "no"}
		}
		return Prompt{
			Kind:    KindQuestion,
			Text:    promptLine(text[:m[1]]),
			Options: options,
		}, true
	}

	return Prompt{}, false
}

// promptLine returns the line the question mark pattern ended on.
func promptLine(text string) string {
	if i := strings.LastIndexAny(text, "\r\n"); i >= 0 {
		text = text[i+1:]
	}
	text = collapse(text)
	if len(text) > 200 {
		text = text[len(text)-200:]
	}
	return text
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
