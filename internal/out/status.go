package out

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
)

// StatusView is what a watch line shows for one shift.
type StatusView struct {
	ShiftID string
	State   string
	Status  sideshift.Status
	Err     string
}

var toneColors = map[sideshift.Tone]*color.Color{
	sideshift.TonePending: color.New(color.FgYellow),
	sideshift.ToneActive:  color.New(color.FgCyan),
	sideshift.ToneSuccess: color.New(color.FgGreen),
	sideshift.ToneFailure: color.New(color.FgRed),
	sideshift.ToneNeutral: color.New(color.FgWhite),
}

// StatusLine formats one human-readable watch line. Color is dropped
// automatically when stdout is not a terminal.
func StatusLine(v StatusView) string {
	status := string(v.Status)
	if status == "" {
		status = "pending"
	}
	c, ok := toneColors[v.Status.Tone()]
	if !ok {
		c = toneColors[sideshift.ToneNeutral]
	}
	line := fmt.Sprintf("%s  %s  [%s]", v.ShiftID, c.Sprint(status), v.State)
	if desc := v.Status.Description(); desc != "" {
		line += "  " + desc
	}
	if v.Err != "" {
		line += "  " + color.RedString("error: %s", v.Err)
	}
	return line
}

// Spinner wraps a terminal spinner. It is inert when color output is
// disabled, which covers pipes and redirected output.
type Spinner struct {
	mu sync.Mutex
	s  *spinner.Spinner
}

func StartSpinner(w io.Writer, suffix string) *Spinner {
	if color.NoColor {
		return &Spinner{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + suffix
	s.Start()
	return &Spinner{s: s}
}

func (sp *Spinner) Update(suffix string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.s == nil {
		return
	}
	sp.s.Lock()
	sp.s.Suffix = " " + suffix
	sp.s.Unlock()
}

func (sp *Spinner) Stop() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.s == nil {
		return
	}
	sp.s.Stop()
	sp.s = nil
}
