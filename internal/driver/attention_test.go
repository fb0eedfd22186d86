package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector_YesNoQuestion(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		text    string
		options []string
	}{
		{"y/n", []string{"Overwrite config? (y/n) "}, "Overwrite config? (y/n)", []string{"y", "n"}},
		{"Yes/No", []string{"output\nContinue? (Yes/No)"}, "Continue? (Yes/No)", []string{"yes", "no"}},
		{"split across chunks", []string{"Apply patch? (", "y/N)"}, "Apply patch? (y/N)", []string{"y", "n"}},
		{"ansi colored", []string{"\x1b[1mDelete?\x1b[0m \x1b[33m(y/n)\x1b[0m"}, "Delete? (y/n)", []string{"y", "n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(0)
			var got Prompt
			var ok bool
			for _, c := range tt.chunks {
				got, ok = d.Feed([]byte(c))
			}
			require.True(t, ok)
			assert.Equal(t, KindQuestion, got.Kind)
			assert.Equal(t, tt.text, got.Text)
			assert.Equal(t, tt.options, got.Options)
		})
	}
}

func TestDetector_ConfirmMenu(t *testing.T) {
	d := NewDetector(0)
	p, ok := d.Feed([]byte("╭───╮\n│ Do you want to create hello.go?\n│ ❯ 1. Yes\n"))
	require.True(t, ok)
	assert.Equal(t, KindConfirm, p.Kind)
	assert.Equal(t, "Do you want to create hello.go?", p.Text)

	p, ok = d.Feed([]byte("Bash command\n  rm -rf build\nDo you want to proceed?\n"))
	require.True(t, ok)
	assert.Equal(t, "Do you want to proceed?", p.Text)
}

func TestDetector_PlainOutputIgnored(t *testing.T) {
	d := NewDetector(0)
	for _, c := range []string{"compiling...\n", "ok  \tpkg\t0.1s\n", "what now?\n"} {
		_, ok := d.Feed([]byte(c))
		assert.False(t, ok, c)
	}
}

func TestDetector_SamePromptReportedOnce(t *testing.T) {
	d := NewDetector(0)
	_, ok := d.Feed([]byte("Do you want to proceed?"))
	require.True(t, ok)

	// TUI redraw of the same menu.
	_, ok = d.Feed([]byte("\x1b[2J\x1b[HDo you want to proceed?"))
	assert.False(t, ok)

	_, ok = d.Feed([]byte("Do you want to edit main.go?"))
	assert.True(t, ok)
}

func TestDetector_RateLimited(t *testing.T) {
	d := NewDetector(time.Hour)
	_, ok := d.Feed([]byte("first? (y/n)"))
	require.True(t, ok)

	_, ok = d.Feed([]byte("\nsecond? (y/n)"))
	assert.False(t, ok, "second prompt inside the interval should be suppressed")
}
