package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minirag/internal/domain"
	"minirag/internal/service"
)

type fakePort struct {
	reqs []service.QueryRequest
	err  error
}

func (f *fakePort) Query(_ context.Context, req service.QueryRequest) (*service.QueryResult, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	res := &service.QueryResult{
		Question:   req.Question,
		Collection: req.Collection,
		Hits: []domain.Hit{
			{ID: "a", Document: "Dogs bark. Cats purr.", Metadata: domain.ChunkMeta{Source: "pets.txt", Page: 2}, Distance: 0.1},
			{ID: "b", Document: "Fish swim.", Metadata: domain.ChunkMeta{Source: "pets.txt", Page: 3}, Distance: 0.4},
		},
	}
	if req.Answer {
		res.Answer, res.Answered = "Cats purr.", true
	}
	return res, nil
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return next.(Model)
}

// submit presses enter and delivers the query result back to the model.
func submit(t *testing.T, m Model, q string) Model {
	t.Helper()
	m.input.SetValue(q)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m = next.(Model)
	assert.True(t, m.busy)
	next, _ = m.Update(cmd())
	return next.(Model)
}

func TestQueryFlow(t *testing.T) {
	port := &fakePort{}
	m := sized(t, New(context.Background(), port, Options{Collection: "pets", TopK: 2}))

	m = submit(t, m, "cats")
	require.Len(t, port.reqs, 1)
	assert.Equal(t, service.QueryRequest{Question: "cats", Collection: "pets", TopK: 2}, port.reqs[0])
	assert.False(t, m.busy)
	assert.Contains(t, m.status, "2 results")

	view := m.renderCurrentResult()
	assert.Contains(t, view, "#1/2")
	assert.Contains(t, view, "source=pets.txt")
	assert.Contains(t, view, "page=2")
	assert.NotContains(t, view, "Answer")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Contains(t, m.renderCurrentResult(), "#2/2")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Contains(t, m.renderCurrentResult(), "#1/2")
}

func TestToggleAnswerMode(t *testing.T) {
	port := &fakePort{}
	m := sized(t, New(context.Background(), port, Options{}))
	assert.Contains(t, m.status, "retrieval")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlA})
	m = next.(Model)
	assert.Contains(t, m.status, "answer")

	m = submit(t, m, "what purrs?")
	require.Len(t, port.reqs, 1)
	assert.True(t, port.reqs[0].Answer)
	assert.Equal(t, service.DefaultCollection, port.reqs[0].Collection)
	assert.Contains(t, m.renderCurrentResult(), "Answer\nCats purr.")
}

func TestQueryError(t *testing.T) {
	port := &fakePort{err: errors.New("store down")}
	m := sized(t, New(context.Background(), port, Options{}))
	m = submit(t, m, "anything")
	assert.Equal(t, "Error: store down", m.status)
	assert.Equal(t, "No results yet.", m.renderCurrentResult())
}

func TestBlankQueryIsIgnored(t *testing.T) {
	port := &fakePort{}
	m := sized(t, New(context.Background(), port, Options{}))
	m.input.SetValue("   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, port.reqs)
}

func TestHighlightBestSentence(t *testing.T) {
	got := highlightBestSentence("Dogs bark loudly. Cats purr softly. and a cut off tail", "why do cats purr")
	assert.Equal(t, "Dogs bark loudly. "+highlightStyle.Render("Cats purr softly.")+" and a cut off tail", got)

	assert.Equal(t, "no terminator here", highlightBestSentence("no terminator here", ""))
	assert.Equal(t, "", highlightBestSentence("", "q"))
}

func TestTokenOverlapScore(t *testing.T) {
	q := toTokenSet("The red apple")
	assert.Equal(t, 2, tokenOverlapScore(q, "An apple, a red apple!"))
	assert.Zero(t, tokenOverlapScore(q, "Nothing shared"))
}
