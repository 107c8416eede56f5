package chatbot

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// Match is the outcome of evaluating inbound text.
type Match struct {
	RuleID       string
	Reply        string
	ResponseType ResponseType
	// EscalateTo is the department for transfer rules and empty otherwise.
	EscalateTo string
}

// Escalates reports whether the conversation should also reach a human.
func (m Match) Escalates() bool { return m.EscalateTo != "" }

type compiledRule struct {
	rule     Rule
	keywords []string
}

type ruleSet struct {
	all    []Rule
	active []compiledRule
}

// Engine evaluates text against a prioritized keyword rule set. Rule sets
// are replaced as a whole and published atomically.
type Engine struct {
	current atomic.Pointer[ruleSet]
}

// NewEngine builds an engine; invalid rules are rejected.
func NewEngine(rules []Rule) (*Engine, error) {
	e := &Engine{}
	if err := e.UpdateRules(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateRules validates rules and swaps them in. On error the previous set stays active.
func (e *Engine) UpdateRules(rules []Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate id %s", ErrInvalidRule, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	e.current.Store(compile(rules))
	return nil
}

func compile(rules []Rule) *ruleSet {
	all := make([]Rule, len(rules))
	for i, r := range rules {
		r.Keywords = append([]string(nil), r.Keywords...)
		all[i] = r
	}
	active := make([]compiledRule, 0, len(all))
	for _, r := range all {
		if !r.IsActive {
			continue
		}
		active = append(active, compiledRule{rule: r, keywords: r.normalizedKeywords()})
	}
	// Equal priorities keep load order.
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].rule.Priority < active[j].rule.Priority
	})
	return &ruleSet{all: all, active: active}
}

// Rules returns a copy of the loaded rules in load order.
func (e *Engine) Rules() []Rule {
	set := e.current.Load()
	if set == nil {
		return nil
	}
	out := make([]Rule, len(set.all))
	for i, r := range set.all {
		r.Keywords = append([]string(nil), r.Keywords...)
		out[i] = r
	}
	return out
}

// Match returns the highest-precedence active rule with a keyword contained
// in text. ok is false when nothing matches.
func (e *Engine) Match(text string) (Match, bool) {
	set := e.current.Load()
	if set == nil {
		return Match{}, false
	}
	input := strings.ToLower(text)
	if strings.TrimSpace(input) == "" {
		return Match{}, false
	}
	for _, cr := range set.active {
		for _, kw := range cr.keywords {
			if !strings.Contains(input, kw) {
				continue
			}
			m := Match{
				RuleID:       cr.rule.ID,
				Reply:        cr.rule.Response,
				ResponseType: cr.rule.ResponseType,
			}
			if cr.rule.ResponseType == ResponseTransfer {
				m.EscalateTo = cr.rule.TransferTo
			}
			return m, true
		}
	}
	return Match{}, false
}
