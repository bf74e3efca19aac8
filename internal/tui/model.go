package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"minirag/internal/service"
)

// QueryPort is the TUI-facing subset of the RAG service.
type QueryPort interface {
	Query(ctx context.Context, req service.QueryRequest) (*service.QueryResult, error)
}

// Options configures the query loop.
type Options struct {
	Collection string
	TopK       int
	// Answer starts the loop in answer mode.
	Answer bool
	// Summary is shown under the header.
	Summary string
}

// Model is the Bubble Tea model for the interactive query loop.
type Model struct {
	ctx       context.Context
	service   QueryPort
	opts      Options
	input     textinput.Model
	viewport  viewport.Model
	result    *service.QueryResult
	status    string
	cursor    int
	ready     bool
	busy      bool
	lastQuery string
}

type queryDoneMsg struct {
	query  string
	result *service.QueryResult
	err    error
}

// New creates a new TUI model instance.
func New(ctx context.Context, svc QueryPort, opts Options) Model {
	if opts.Collection == "" {
		opts.Collection = service.DefaultCollection
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	m := Model{ctx: ctx, service: svc, opts: opts, input: ti, viewport: vp}
	m.status = "Ready. " + m.modeHint()
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and query completion events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header and summary, status, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case queryDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.result = nil
		} else {
			m.result = msg.result
			m.cursor = 0
			m.lastQuery = msg.query
			m.status = fmt.Sprintf("%d results for %q in %s. %s", len(msg.result.Hits), msg.query, m.opts.Collection, m.modeHint())
		}
		m.viewport.SetContent(m.renderCurrentResult())
		m.viewport.GotoTop()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			m.busy = true
			m.status = fmt.Sprintf("Searching for %q...", q)
			return m, m.runQuery(q)
		case "ctrl+a":
			m.opts.Answer = !m.opts.Answer
			m.status = m.modeHint()
			return m, nil
		case "down":
			if m.hits() > 0 {
				m.cursor = (m.cursor + 1) % m.hits()
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if m.hits() > 0 {
				m.cursor = (m.cursor - 1 + m.hits()) % m.hits()
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) runQuery(q string) tea.Cmd {
	req := service.QueryRequest{Question: q, Collection: m.opts.Collection, TopK: m.opts.TopK, Answer: m.opts.Answer}
	ctx := m.ctx
	return func() tea.Msg {
		res, err := m.service.Query(ctx, req)
		return queryDoneMsg{query: q, result: res, err: err}
	}
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("minirag")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.opts.Summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) hits() int {
	if m.result == nil {
		return 0
	}
	return len(m.result.Hits)
}

func (m Model) modeHint() string {
	if m.opts.Answer {
		return "Mode: answer (ctrl+a for retrieval only)"
	}
	return "Mode: retrieval (ctrl+a to synthesize answers)"
}

func (m Model) renderCurrentResult() string {
	if m.result == nil {
		return "No results yet."
	}
	if len(m.result.Hits) == 0 {
		return "No matching chunks in " + m.result.Collection + "."
	}
	h := m.result.Hits[m.cursor]
	title := fmt.Sprintf("#%d/%d  distance=%.4f  source=%s  page=%d",
		m.cursor+1, len(m.result.Hits), h.Distance, h.Metadata.Source, h.Metadata.Page)
	out := titleStyle.Render(title) + "\n\n" + highlightBestSentence(h.Document, m.lastQuery)
	if m.result.Answered {
		out += "\n\n" + answerLabelStyle.Render("Answer") + "\n" + m.result.Answer
	}
	return out
}

var (
	resultBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	titleStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	answerLabelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
	unicodeWordRe    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe       = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence renders the sentence sharing the most words with
// query in the highlight style.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	} else if tail := text[strings.LastIndexAny(text, ".!?")+1:]; strings.TrimSpace(tail) != "" {
		// chunks are cut mid-sentence, keep the unterminated tail
		sentences = append(sentences, tail)
	}
	qTokens := toTokenSet(query)
	bestIdx, bestScore := -1, 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sent = highlightStyle.Render(sent)
		}
		sentences[i] = sent
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	seen := make(map[string]struct{})
	for _, t := range unicodeWordRe.FindAllString(strings.ToLower(sentence), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
