package chatbot

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textRule(id string, priority int, keywords ...string) Rule {
	return Rule{ID: id, Keywords: keywords, Response: "reply " + id, ResponseType: ResponseText, Priority: priority, IsActive: true}
}

func TestMatchPriorityWins(t *testing.T) {
	e, err := NewEngine([]Rule{
		textRule("pain", 5, "dor"),
		textRule("greeting", 1, "oi"),
	})
	require.NoError(t, err)

	m, ok := e.Match("Oi, estou com dor")
	require.True(t, ok)
	assert.Equal(t, "greeting", m.RuleID)
}

func TestMatchDefaultRules(t *testing.T) {
	e, err := NewEngine(DefaultRules())
	require.NoError(t, err)

	m, ok := e.Match("estou com dor")
	require.True(t, ok)
	assert.Equal(t, "pain", m.RuleID)
	assert.Equal(t, "therapist", m.EscalateTo)
	assert.NotEmpty(t, m.Reply)
	assert.True(t, m.Escalates())

	m, ok = e.Match("oi, estou com dor")
	require.True(t, ok)
	assert.Equal(t, "greeting", m.RuleID, "priority 1 beats priority 10")
	assert.False(t, m.Escalates())

	_, ok = e.Match("qual o endereço?")
	assert.False(t, ok)
}

func TestMatchTiesKeepLoadOrder(t *testing.T) {
	e, err := NewEngine([]Rule{
		textRule("first", 2, "ajuda"),
		textRule("second", 2, "ajuda"),
		textRule("late", 3, "ajuda"),
	})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		m, ok := e.Match("preciso de ajuda")
		require.True(t, ok)
		require.Equal(t, "first", m.RuleID)
	}
}

func TestMatchSkipsInactive(t *testing.T) {
	inactive := textRule("off", 1, "oi")
	inactive.IsActive = false
	e, err := NewEngine([]Rule{inactive, textRule("on", 9, "oi")})
	require.NoError(t, err)

	m, ok := e.Match("oi")
	require.True(t, ok)
	assert.Equal(t, "on", m.RuleID)
	assert.Len(t, e.Rules(), 2)
}

func TestMatchBlankInput(t *testing.T) {
	e, err := NewEngine(DefaultRules())
	require.NoError(t, err)
	_, ok := e.Match("   ")
	assert.False(t, ok)
}

func TestMatchDeterministicUnderConcurrency(t *testing.T) {
	e, err := NewEngine(DefaultRules())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, _ := e.Match("oi, quero agendar porque estou com dor")
			results <- m.RuleID
		}()
	}
	wg.Wait()
	close(results)
	for id := range results {
		assert.Equal(t, "greeting", id)
	}
}

func TestUpdateRulesValidation(t *testing.T) {
	e, err := NewEngine(DefaultRules())
	require.NoError(t, err)

	bad := Rule{ID: "x", Keywords: []string{"a"}, Response: "r", ResponseType: ResponseTransfer, Priority: 1, IsActive: true}
	err = e.UpdateRules([]Rule{bad})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRule))

	err = e.UpdateRules([]Rule{textRule("a", 1, "x"), textRule("a", 2, "y")})
	assert.ErrorIs(t, err, ErrInvalidRule)

	err = e.UpdateRules([]Rule{{ID: "y", Response: "r", ResponseType: "sms"}})
	assert.ErrorIs(t, err, ErrInvalidRule)

	// previous set remains in effect
	m, ok := e.Match("oi")
	require.True(t, ok)
	assert.Equal(t, "greeting", m.RuleID)
}

func TestUpdateRulesReplacesWholeSet(t *testing.T) {
	e, err := NewEngine(DefaultRules())
	require.NoError(t, err)
	require.NoError(t, e.UpdateRules([]Rule{textRule("only", 1, "tchau")}))

	_, ok := e.Match("oi")
	assert.False(t, ok)
	m, ok := e.Match("tchau")
	require.True(t, ok)
	assert.Equal(t, "only", m.RuleID)
}

func TestLoadRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	body := `[{"id":"hi","keywords":["OI"],"response":"Olá","responseType":"text","priority":1,"isActive":true}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	rules, err := LoadRulesFile(path)
	require.NoError(t, err)
	e, err := NewEngine(rules)
	require.NoError(t, err)
	m, ok := e.Match("oi tudo bem")
	require.True(t, ok)
	assert.Equal(t, "Olá", m.Reply)

	_, err = LoadRulesFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
