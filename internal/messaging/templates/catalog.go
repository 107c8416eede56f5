package templates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wolfman30/physio-messaging/internal/messaging"
)

// Status is the carrier approval state of a template.
type Status string

const (
	StatusApproved Status = "approved"
	StatusPending  Status = "pending"
	StatusRejected Status = "rejected"
)

// ComponentType is the section of a template a component fills.
type ComponentType string

const (
	ComponentHeader ComponentType = "header"
	ComponentBody   ComponentType = "body"
	ComponentFooter ComponentType = "footer"
	ComponentButton ComponentType = "button"
)

// Component is one ordered part of a template.
type Component struct {
	Type ComponentType `json:"type"`
	Text string        `json:"text,omitempty"`
}

// MessageTemplate is an immutable catalog entry.
type MessageTemplate struct {
	Name       string      `json:"name"`
	Category   string      `json:"category"`
	Language   string      `json:"language"`
	Status     Status      `json:"status"`
	Components []Component `json:"components"`
}

// Body returns the text of the first body component.
func (t MessageTemplate) Body() string {
	for _, c := range t.Components {
		if c.Type == ComponentBody {
			return c.Text
		}
	}
	return ""
}

var placeholderRe = regexp.MustCompile(`\{\{\s*(\d+)\s*\}\}`)

// Catalog holds the fixed set of templates known to the clinic.
type Catalog struct {
	entries []MessageTemplate
}

// NewCatalog copies entries so callers cannot mutate the catalog afterwards.
func NewCatalog(entries []MessageTemplate) *Catalog {
	copied := make([]MessageTemplate, len(entries))
	for i, e := range entries {
		e.Components = append([]Component(nil), e.Components...)
		copied[i] = e
	}
	return &Catalog{entries: copied}
}

// Lookup finds the template for name in locale, falling back to any
// language variant of the same name.
func (c *Catalog) Lookup(name, locale string) (MessageTemplate, bool) {
	if c == nil {
		return MessageTemplate{}, false
	}
	name = strings.TrimSpace(name)
	var fallback *MessageTemplate
	for i := range c.entries {
		e := &c.entries[i]
		if e.Name != name {
			continue
		}
		if strings.EqualFold(e.Language, locale) {
			return *e, true
		}
		if fallback == nil {
			fallback = e
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return MessageTemplate{}, false
}

// Render substitutes {{N}} placeholders in the template body with params.
// Missing params render as the empty string.
func (c *Catalog) Render(name, locale string, params []string) (string, error) {
	tmpl, ok := c.Lookup(name, locale)
	if !ok {
		return "", fmt.Errorf("templates: %q: %w", name, messaging.ErrTemplateNotFound)
	}
	if tmpl.Status != StatusApproved {
		return "", fmt.Errorf("templates: %q is %s: %w", name, tmpl.Status, messaging.ErrTemplateNotApproved)
	}
	return Substitute(tmpl.Body(), params), nil
}

// Templates returns a copy of every entry.
func (c *Catalog) Templates() []MessageTemplate {
	if c == nil {
		return nil
	}
	out := make([]MessageTemplate, len(c.entries))
	copy(out, c.entries)
	return out
}

// Substitute replaces positional placeholders; index 1 maps to params[0].
func Substitute(body string, params []string) string {
	return placeholderRe.ReplaceAllStringFunc(body, func(token string) string {
		m := placeholderRe.FindStringSubmatch(token)
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > len(params) {
			return ""
		}
		return params[idx-1]
	})
}

// DefaultCatalog returns the clinic's standard templates.
func DefaultCatalog() *Catalog {
	body := func(text string) []Component {
		return []Component{{Type: ComponentBody, Text: text}}
	}
	return NewCatalog([]MessageTemplate{
		{
			Name:     "appointment_reminder",
			Category: "utility",
			Language: "pt_BR",
			Status:   StatusApproved,
			Components: append(body("Olá {{1}}! Lembrete: sua sessão de fisioterapia é em {{2}} às {{3}}. Responda SIM para confirmar."),
				Component{Type: ComponentFooter, Text: "Responda SAIR para não receber lembretes"}),
		},
		{
			Name:       "appointment_confirmation",
			Category:   "utility",
			Language:   "pt_BR",
			Status:     StatusApproved,
			Components: body("Olá {{1}}, sua sessão foi confirmada para {{2}} às {{3}} com {{4}}."),
		},
		{
			Name:       "exercise_reminder",
			Category:   "utility",
			Language:   "pt_BR",
			Status:     StatusApproved,
			Components: body("Olá {{1}}! Não esqueça de fazer hoje os exercícios: {{2}}."),
		},
		{
			Name:       "welcome_message",
			Category:   "utility",
			Language:   "pt_BR",
			Status:     StatusApproved,
			Components: body("Bem-vindo(a) à {{1}}, {{2}}! Por aqui você recebe lembretes e pode falar com a equipe."),
		},
		{
			Name:       "promo_campaign",
			Category:   "marketing",
			Language:   "pt_BR",
			Status:     StatusPending,
			Components: body("{{1}}, aproveite {{2}}% de desconto no pacote de sessões!"),
		},
	})
}
