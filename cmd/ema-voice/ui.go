package main

import (
	"fmt"
	"strings"

	orchestration "github.com/koscakluka/ema-voice/core"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

const (
	sidebarWidth      = 33
	sidebarPadding    = 1
	sidebarOuterWidth = sidebarWidth + sidebarPadding*2

	viewportPadding = 1
	inputHeight     = 3
)

type stateMsg orchestration.State
type messageMsg orchestration.Message
type interimTranscriptMsg string
type captureStateMsg orchestration.CaptureState
type synthesisStateMsg orchestration.SynthesisState
type errorMsg struct{ err error }

var (
	labelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	agentStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	footerStyle = lipgloss.NewStyle().PaddingTop(1).Foreground(lipgloss.Color("241"))
)

// uiCallbacks forwards orchestrator updates to the program. Send blocks
// until the update loop takes the message, so ordering is kept.
func uiCallbacks(program *tea.Program) []orchestration.OrchestrateOption {
	return []orchestration.OrchestrateOption{
		orchestration.WithStateChangedCallback(func(state orchestration.State) {
			program.Send(stateMsg(state))
		}),
		orchestration.WithMessageCallback(func(message orchestration.Message) {
			program.Send(messageMsg(message))
		}),
		orchestration.WithInterimTranscriptCallback(func(transcript string) {
			program.Send(interimTranscriptMsg(transcript))
		}),
		orchestration.WithCaptureStateCallback(func(state orchestration.CaptureState) {
			program.Send(captureStateMsg(state))
		}),
		orchestration.WithSynthesisStateCallback(func(state orchestration.SynthesisState) {
			program.Send(synthesisStateMsg(state))
		}),
		orchestration.WithErrorCallback(func(err error) {
			program.Send(errorMsg{err: err})
		}),
	}
}

type model struct {
	orchestrator *orchestration.Orchestrator

	termWidth  int
	termHeight int
	ready      bool

	state             orchestration.State
	capture           orchestration.CaptureState
	synthesis         orchestration.SynthesisState
	messages          []orchestration.Message
	interimTranscript string
	lastError         string
	autoCapture       bool

	viewport        viewport.Model
	input           textinput.Model
	automaticScroll bool
}

func newModel(orchestrator *orchestration.Orchestrator) model {
	input := textinput.New()
	input.Placeholder = "Type a message and press Enter"
	input.Prompt = "> "
	input.Focus()

	return model{
		orchestrator:    orchestrator,
		state:           orchestrator.State(),
		input:           input,
		autoCapture:     true,
		automaticScroll: true,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height

		if !m.ready {
			m.viewport = viewport.New(m.viewportWidth(), m.viewportHeight())
			m.ready = true
		} else {
			m.viewport.Width = m.viewportWidth()
			m.viewport.Height = m.viewportHeight()
		}
		m.input.Width = m.viewportWidth() - len(m.input.Prompt) - 1
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "enter":
			if text := strings.TrimSpace(m.input.Value()); text != "" {
				m.orchestrator.SendText(text)
				m.input.Reset()
			}
			return m, nil
		case "ctrl+l":
			m.orchestrator.ToggleListening()
			return m, nil
		case "ctrl+o":
			m.orchestrator.ToggleMute()
			return m, nil
		case "ctrl+g":
			m.autoCapture = !m.autoCapture
			m.orchestrator.SetAutoCapture(m.autoCapture)
			return m, nil
		case "ctrl+p":
			m.orchestrator.TogglePlayback()
			return m, nil
		case "esc":
			m.orchestrator.StopSpeaking()
			return m, nil
		case "ctrl+r":
			m.messages = nil
			m.interimTranscript = ""
			m.lastError = ""
			m.orchestrator.RestartConversation()
			m.refresh()
			return m, nil
		}

	case stateMsg:
		m.state = orchestration.State(msg)
		if m.state != orchestration.StateListening {
			m.interimTranscript = ""
			m.refresh()
		}
		return m, nil

	case messageMsg:
		m.messages = append(m.messages, orchestration.Message(msg))
		m.interimTranscript = ""
		m.refresh()
		return m, nil

	case interimTranscriptMsg:
		m.interimTranscript = string(msg)
		m.refresh()
		return m, nil

	case captureStateMsg:
		m.capture = orchestration.CaptureState(msg)
		return m, nil

	case synthesisStateMsg:
		m.synthesis = orchestration.SynthesisState(msg)
		return m, nil

	case errorMsg:
		m.lastError = msg.err.Error()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	// Keys belong to the input; the viewport scrolls with the mouse.
	if _, isKey := msg.(tea.KeyMsg); !isKey {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		m.automaticScroll = m.viewport.AtBottom()
	}

	return m, tea.Batch(cmds...)
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.content())
	if m.automaticScroll {
		m.viewport.GotoBottom()
	}
}

func (m model) viewportWidth() int {
	return m.termWidth - sidebarOuterWidth - viewportPadding*2
}

func (m model) viewportHeight() int {
	return m.termHeight - viewportPadding*2 - inputHeight - 2
}

func (m model) content() string {
	var b strings.Builder
	for _, message := range m.messages {
		label := agentStyle.Render("ema")
		if message.Role == orchestration.RoleUser {
			label = userStyle.Render("you")
		}
		text := message.Text
		if message.Audio != nil && strings.TrimSpace(text) == "" {
			text = mutedStyle.Render("(audio)")
		}
		fmt.Fprintf(&b, "%s: %s\n\n", label, text)
	}
	if m.interimTranscript != "" {
		fmt.Fprintf(&b, "%s: %s\n", userStyle.Render("you"), mutedStyle.Render(m.interimTranscript))
	}
	return wordwrap.String(strings.TrimSpace(b.String()), m.viewportWidth()-4)
}

func (m model) View() string {
	if m.termWidth == 0 {
		return "Loading..."
	}

	mainStyle := lipgloss.NewStyle().
		Padding(viewportPadding).
		Width(m.termWidth - sidebarOuterWidth).
		Height(m.viewportHeight() + viewportPadding*2)

	sidebarStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(sidebarPadding).
		Width(sidebarWidth).
		Height(m.termHeight - 2)

	rows := []string{
		status("State", m.state.String()),
		status("Listening", m.capture.Listening),
		status("Muted", m.capture.MutedByUser),
		status("Auto capture", m.autoCapture),
		status("Speaking", m.synthesis.Playing),
		status("Generating", m.synthesis.Generating),
		status("Paused", m.synthesis.Paused),
	}
	if m.capture.PermissionDenied {
		rows = append(rows, errorStyle.Render("Microphone denied"))
	}
	if m.capture.Unavailable {
		rows = append(rows, errorStyle.Render("Recognition unavailable"))
	}
	if m.lastError != "" {
		rows = append(rows, "", errorStyle.Render(wordwrap.String(m.lastError, sidebarWidth-2)))
	}
	sidebar := sidebarStyle.Render(strings.Join(rows, "\n"))

	footer := footerStyle.Render(
		"enter send · ctrl+l listen · ctrl+o mute · ctrl+g auto capture\n" +
			"ctrl+p pause · esc stop speaking · ctrl+r restart · ctrl+c quit")

	return lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.JoinVertical(lipgloss.Left,
			mainStyle.Render(m.viewport.View()),
			m.input.View(),
			footer,
		),
		sidebar,
	)
}

func status(label string, value any) string {
	return fmt.Sprintf("%s: %s", labelStyle.Render(label), valueStyle.Render(fmt.Sprintf("%v", value)))
}
