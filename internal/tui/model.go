// Package tui is the terminal front end of recod: a push-to-record
// indicator with a level meter and the live transcript.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/recod/internal/app"
	"github.com/MrWong99/recod/internal/recording"
)

// refreshInterval is how often the model polls the recorder.
const refreshInterval = 100 * time.Millisecond

// Controller is the part of [app.Recorder] the TUI drives.
type Controller interface {
	StartRecording(ctx context.Context, systemAudio bool) error
	StopRecording(ctx context.Context) (string, bool)
	Snapshot() app.Snapshot
}

var _ Controller = (*app.Recorder)(nil)

type tickMsg time.Time

type startedMsg struct{ err error }

type stoppedMsg struct {
	path string
	ok   bool
}

// Model is the root bubbletea model.
type Model struct {
	ctx  context.Context
	ctrl Controller

	snap        app.Snapshot
	systemAudio bool
	busy        bool
	quitting    bool
	errMessage  string

	width int
}

// New returns a model driving ctrl. systemAudio is the initial loopback
// setting for new recordings.
func New(ctx context.Context, ctrl Controller, systemAudio bool) Model {
	return Model{ctx: ctx, ctrl: ctrl, systemAudio: systemAudio}
}

// Run shows the TUI until the user quits or ctx is cancelled. A recording
// still active when ctx is cancelled is left to the caller.
func Run(ctx context.Context, ctrl Controller, systemAudio bool) error {
	p := tea.NewProgram(New(ctx, ctrl, systemAudio), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func startCmd(ctx context.Context, ctrl Controller, systemAudio bool) tea.Cmd {
	return func() tea.Msg {
		return startedMsg{err: ctrl.StartRecording(ctx, systemAudio)}
	}
}

// stopCmd runs the whole finish pipeline, which may include a full-file
// decode, so it never runs on the update loop.
func stopCmd(ctx context.Context, ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		path, ok := ctrl.StopRecording(ctx)
		return stoppedMsg{path: path, ok: ok}
	}
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.snap = m.ctrl.Snapshot()
		return m, tickCmd()

	case startedMsg:
		m.busy = false
		if msg.err != nil {
			m.errMessage = msg.err.Error()
		}
		m.snap = m.ctrl.Snapshot()
		return m, nil

	case stoppedMsg:
		m.busy = false
		m.snap = m.ctrl.Snapshot()
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		m.quitting = true
		if m.snap.Recording && !m.busy {
			m.busy = true
			return m, stopCmd(m.ctx, m.ctrl)
		}
		if m.busy {
			return m, nil
		}
		return m, tea.Quit

	case KeySpace:
		if m.busy || m.quitting {
			return m, nil
		}
		m.busy = true
		m.errMessage = ""
		if m.snap.Recording {
			return m, stopCmd(m.ctx, m.ctrl)
		}
		return m, startCmd(m.ctx, m.ctrl, m.systemAudio)

	case KeyToggleSys, KeyToggleSysUp:
		m.systemAudio = !m.systemAudio
		return m, nil
	}
	return m, nil
}

// View renders the current state.
func (m Model) View() string {
	width := m.width
	if width <= 0 {
		width = 80
	}
	divider := dividerStyle.Render(strings.Repeat("─", width))

	sections := []string{
		m.renderHeader(),
		m.renderStatus(),
		divider,
		m.renderTranscript(width),
		divider,
	}
	if m.errMessage != "" {
		sections = append(sections, errorStyle.Render("error: "+m.errMessage))
	}
	sections = append(sections, m.renderFooter())
	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("RECOD")
	if m.systemAudio {
		title += dimStyle.Render(" [MIC + SYS]")
	} else {
		title += dimStyle.Render(" [MIC]")
	}
	return title
}

func (m Model) renderStatus() string {
	switch {
	case m.snap.Recording:
		status := recordingDotStyle.Render("● REC") +
			" " + formatElapsed(m.snap.Elapsed) +
			"  " + renderLevelMeter(m.snap.Level)
		if m.snap.Strategy != "" {
			status += dimStyle.Render("  " + string(m.snap.Strategy))
		}
		return status
	case m.snap.Finishing || m.busy:
		return finishingStyle.Render("⟳ transcribing")
	default:
		return idleDotStyle.Render("○ IDLE")
	}
}

func renderLevelMeter(level float32) string {
	const barLen = 16
	filled := min(int(level*barLen), barLen)

	var b strings.Builder
	for i := range barLen {
		switch {
		case i >= filled:
			b.WriteString(levelGrayStyle.Render("░"))
		case float32(i)/barLen > 0.6:
			b.WriteString(levelYellowStyle.Render("█"))
		default:
			b.WriteString(levelGreenStyle.Render("█"))
		}
	}
	return b.String()
}

func (m Model) renderTranscript(width int) string {
	if m.snap.Recording {
		if m.snap.Confirmed == "" && m.snap.Pending == "" {
			return dimStyle.Render("Listening...")
		}
		text := m.snap.Confirmed
		if m.snap.Pending != "" {
			if text != "" {
				text += " "
			}
			text += partialTextStyle.Render(m.snap.Pending)
		}
		return wrapStyle.Width(width).Render(text)
	}

	last := m.snap.Last
	if last == nil {
		return dimStyle.Render("Press space to start recording.")
	}
	switch {
	case last.Status == recording.StatusFailed:
		return errorStyle.Render("Transcription failed: " + last.Err)
	case last.Text == "":
		return dimStyle.Render("(no speech)")
	default:
		return wrapStyle.Width(width).Render(last.Text) + "\n" +
			dimStyle.Render(fmt.Sprintf("%s · %s", formatElapsed(last.Duration), last.Path))
	}
}

func (m Model) renderFooter() string {
	action := "record"
	if m.snap.Recording {
		action = "stop"
	}
	key := func(k, desc string) string {
		return footerKeyStyle.Render(k) + " " + footerDescStyle.Render(desc)
	}
	return strings.Join([]string{
		key("space", action),
		key("s", "system audio"),
		key("q", "quit"),
	}, "  ")
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
