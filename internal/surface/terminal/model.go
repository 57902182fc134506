package terminal

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/launcher-accounts/accountd/internal/misc"
)

type attentionMsg struct{}

type statusMsg struct {
	text string
	err  bool
}

// model renders the sign-in URL and reads back the redirect the user pastes.
type model struct {
	sf     *termSurface
	title  string
	url    string
	input  textinput.Model
	status string
	isErr  bool
	urgent bool
	width  int
}

func newModel(sf *termSurface, title, signInURL string) model {
	ti := textinput.New()
	ti.Placeholder = "paste the address of the page you land on after signing in"
	ti.CharLimit = 4096
	ti.Focus()
	return model{sf: sf, title: title, url: signInURL, input: ti}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(20, msg.Width-4)
		return m, nil
	case attentionMsg:
		m.urgent = true
		return m, nil
	case statusMsg:
		m.status, m.isErr = msg.text, msg.err
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEsc, tea.KeyCtrlC:
			m.sf.markClosed()
			return m, tea.Quit
		case tea.KeyCtrlY:
			return m, m.copyURL
		case tea.KeyCtrlO:
			return m, m.openURL
		case tea.KeyEnter:
			return m.submit()
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) submit() (tea.Model, tea.Cmd) {
	raw := strings.TrimSpace(m.input.Value())
	if raw == "" {
		return m, nil
	}
	u, err := misc.NormalizeCallbackInput(raw)
	if err != nil {
		m.status, m.isErr = "That does not look like an address: "+err.Error(), true
		return m, nil
	}
	m.sf.setLocation(u)
	m.input.SetValue("")
	m.status, m.isErr = "Checking sign-in...", false
	return m, nil
}

func (m model) copyURL() tea.Msg {
	if err := m.sf.host.copy(m.url); err != nil {
		return statusMsg{text: "Copy failed: " + err.Error(), err: true}
	}
	return statusMsg{text: "Sign-in address copied to clipboard"}
}

func (m model) openURL() tea.Msg {
	if err := m.sf.host.open(m.url); err != nil {
		return statusMsg{text: "Could not open a browser: " + err.Error(), err: true}
	}
	return statusMsg{text: "Opened in your browser"}
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\nOpen this address and sign in:\n")
	box := urlBoxStyle
	if m.urgent {
		box = urgentBoxStyle
	}
	if m.width > 4 {
		box = box.Width(m.width - 4)
	}
	b.WriteString(box.Render(m.url))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	if m.status != "" {
		b.WriteString("\n")
		if m.isErr {
			b.WriteString(errorStyle.Render(m.status))
		} else {
			b.WriteString(successStyle.Render(m.status))
		}
	}
	b.WriteString(helpStyle.Render("\nenter: submit • ctrl+y: copy address • ctrl+o: open browser • esc: cancel"))
	return b.String()
}
