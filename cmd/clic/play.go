package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	cl "cliccoins/internal/cli"
	"cliccoins/internal/game"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

type playKeys struct {
	Click key.Binding
	Up    key.Binding
	Down  key.Binding
	Tab   key.Binding
	Buy   key.Binding
	Quit  key.Binding
}

func (k playKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Click, k.Up, k.Down, k.Tab, k.Buy, k.Quit}
}

func (k playKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = playKeys{
	Click: key.NewBinding(key.WithKeys(" ", "c"), key.WithHelp("space", "mine")),
	Up:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Tab:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "buildings/upgrades")),
	Buy:   key.NewBinding(key.WithKeys("enter", "b"), key.WithHelp("enter", "buy")),
	Quit:  key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	balanceStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	lockedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	pricyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("178"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	panelStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type streamMsg cl.StreamMessage

type streamErrMsg struct{ err error }

type storefrontMsg game.Storefront

type statusMsg struct {
	text string
	err  bool
}

type playModel struct {
	client *cl.Client
	token  string
	stream *cl.Stream

	snap      game.Snapshot
	front     game.Storefront
	upgrades  bool
	cursor    int
	status    string
	statusErr bool
	help      help.Model
	err       error
}

func newPlayModel(client *cl.Client, token string, stream *cl.Stream) playModel {
	return playModel{client: client, token: token, stream: stream, help: help.New()}
}

func (m playModel) Init() tea.Cmd {
	return tea.Batch(waitForStream(m.stream), m.fetchStorefront())
}

func waitForStream(s *cl.Stream) tea.Cmd {
	return func() tea.Msg {
		msg, err := s.Next()
		if err != nil {
			return streamErrMsg{err: err}
		}
		return streamMsg(msg)
	}
}

func (m playModel) fetchStorefront() tea.Cmd {
	client, token := m.client, m.token
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		front, err := client.Catalog(ctx, token)
		if err != nil {
			return statusMsg{text: err.Error(), err: true}
		}
		return storefrontMsg(front)
	}
}

func (m playModel) send(cmd cl.StreamCommand) tea.Cmd {
	s := m.stream
	return func() tea.Msg {
		if err := s.Send(cmd); err != nil {
			return streamErrMsg{err: err}
		}
		return nil
	}
}

func (m playModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Click):
			return m, m.send(cl.StreamCommand{Kind: "click"})
		case key.Matches(msg, keys.Tab):
			m.upgrades = !m.upgrades
			m.cursor = 0
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < m.rows()-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Buy):
			if cmd, ok := m.selected(); ok {
				return m, m.send(cmd)
			}
		}
		return m, nil

	case streamMsg:
		next := []tea.Cmd{waitForStream(m.stream)}
		if msg.Snapshot != nil {
			m.snap = *msg.Snapshot
		}
		if msg.Command != nil {
			switch {
			case msg.Type == "error":
				m.status, m.statusErr = msg.Error, true
			case msg.Command.Kind != "click":
				m.status, m.statusErr = "Bought "+msg.Command.ID, false
				next = append(next, m.fetchStorefront())
			}
		} else if msg.Type == "error" {
			m.status, m.statusErr = msg.Error, true
		}
		return m, tea.Batch(next...)

	case storefrontMsg:
		m.front = game.Storefront(msg)
		if m.cursor >= m.rows() {
			m.cursor = 0
		}
		return m, nil

	case statusMsg:
		m.status, m.statusErr = msg.text, msg.err
		return m, nil

	case streamErrMsg:
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m playModel) rows() int {
	if m.upgrades {
		return len(m.front.Upgrades)
	}
	return len(m.front.Buildings)
}

func (m playModel) selected() (cl.StreamCommand, bool) {
	if m.upgrades {
		if m.cursor >= len(m.front.Upgrades) {
			return cl.StreamCommand{}, false
		}
		return cl.StreamCommand{Kind: "buy_upgrade", ID: m.front.Upgrades[m.cursor].ID}, true
	}
	if m.cursor >= len(m.front.Buildings) {
		return cl.StreamCommand{}, false
	}
	return cl.StreamCommand{Kind: "buy_building", ID: m.front.Buildings[m.cursor].ID}, true
}

func (m playModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("⛏  ClicCoins"))
	if m.snap.Username != "" {
		b.WriteString(labelStyle.Render("  " + m.snap.Username))
	}
	b.WriteString("\n\n")

	stats := fmt.Sprintf("%s %s\n%s %s/s\n%s %s",
		labelStyle.Render("Balance   "), balanceStyle.Render(game.FormatCoins(m.snap.Balance)),
		labelStyle.Render("Production"), formatRate(m.snap.ProductionRate),
		labelStyle.Render("Per click "), game.FormatCoins(m.snap.ClickValue),
	)
	b.WriteString(panelStyle.Render(stats))
	b.WriteString("\n\n")

	if m.upgrades {
		b.WriteString(titleStyle.Render("Upgrades") + labelStyle.Render("  (tab: buildings)") + "\n")
		for i, u := range m.front.Upgrades {
			line := fmt.Sprintf("%-20s %-26s %10s", truncate(u.Name, 20), truncate(upgradeEffect(u.Upgrade), 26), game.FormatCoins(u.Cost))
			owned := u.Purchased || containsString(m.snap.Upgrades, u.ID)
			switch {
			case owned:
				line = lockedStyle.Render(line + "  owned")
			case m.snap.Balance.LessThan(u.Cost):
				line = pricyStyle.Render(line)
			}
			b.WriteString(m.cursorMark(i) + line + "\n")
		}
	} else {
		b.WriteString(titleStyle.Render("Buildings") + labelStyle.Render("  (tab: upgrades)") + "\n")
		for i, bo := range m.front.Buildings {
			line := fmt.Sprintf("%-20s %6s %10s %8s/s", truncate(bo.Name, 20), comma(bo.Owned), game.FormatCoins(bo.NextCost), formatRate(bo.BaseProduction))
			switch {
			case !bo.Unlocked:
				line = lockedStyle.Render(line + "  locked")
			case m.snap.Balance.LessThan(bo.NextCost):
				line = pricyStyle.Render(line)
			}
			b.WriteString(m.cursorMark(i) + line + "\n")
		}
	}

	b.WriteString("\n")
	if m.status != "" {
		if m.statusErr {
			b.WriteString(errorStyle.Render(m.status))
		} else {
			b.WriteString(balanceStyle.Render(m.status))
		}
		b.WriteString("\n")
	}
	b.WriteString(m.help.View(keys))
	return b.String()
}

func (m playModel) cursorMark(i int) string {
	if i == m.cursor {
		return selectedStyle.Render("▸ ")
	}
	return "  "
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func newPlayCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Play in a live terminal view",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(apiBase)
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			var (
				stream *cl.Stream
				token  string
			)
			err := authorized(ctx, client, func(t string) (err error) {
				token = t
				stream, err = client.OpenStream(ctx, t)
				return err
			})
			cancel()
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer stream.Close()

			final, err := tea.NewProgram(newPlayModel(client, token, stream), tea.WithAltScreen()).Run()
			if err != nil {
				return err
			}
			m, ok := final.(playModel)
			if !ok {
				return nil
			}
			if m.err != nil {
				return fmt.Errorf("stream closed: %w", m.err)
			}
			printSuccess(fmt.Sprintf("Balance: %s coins. Your mine keeps producing %s/s while you are away.",
				game.FormatCoins(m.snap.Balance), formatRate(m.snap.ProductionRate)))
			return nil
		},
	}
}
