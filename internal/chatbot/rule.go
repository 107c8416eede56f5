package chatbot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ResponseType selects what happens when a rule matches.
type ResponseType string

const (
	ResponseText     ResponseType = "text"
	ResponseTemplate ResponseType = "template"
	ResponseTransfer ResponseType = "transfer"
)

// Rule is a keyword-triggered automated reply.
type Rule struct {
	ID           string       `json:"id"`
	Keywords     []string     `json:"keywords"`
	Response     string       `json:"response"`
	ResponseType ResponseType `json:"responseType"`
	TransferTo   string       `json:"transferTo,omitempty"`
	Priority     int          `json:"priority"`
	IsActive     bool         `json:"isActive"`
}

var (
	ErrInvalidRule = errors.New("chatbot: invalid rule")
)

// Validate checks the rule can be evaluated and acted on.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id required", ErrInvalidRule)
	}
	switch r.ResponseType {
	case ResponseText, ResponseTemplate:
	case ResponseTransfer:
		if strings.TrimSpace(r.TransferTo) == "" {
			return fmt.Errorf("%w: rule %s: transfer requires transferTo", ErrInvalidRule, r.ID)
		}
	default:
		return fmt.Errorf("%w: rule %s: unknown response type %q", ErrInvalidRule, r.ID, r.ResponseType)
	}
	if strings.TrimSpace(r.Response) == "" {
		return fmt.Errorf("%w: rule %s: response required", ErrInvalidRule, r.ID)
	}
	return nil
}

// normalizedKeywords lowercases and drops blank keywords; a blank keyword
// would otherwise match every input.
func (r Rule) normalizedKeywords() []string {
	out := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// LoadRulesFile reads a JSON array of rules.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chatbot: read rules: %w", err)
	}
	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("chatbot: decode rules: %w", err)
	}
	return rules, nil
}

// DefaultRules is the clinic's standard rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:           "greeting",
			Keywords:     []string{"oi", "olá", "ola", "bom dia", "boa tarde", "boa noite"},
			Response:     "Olá! Sou o assistente virtual da clínica. Posso ajudar com agendamentos, horários e exercícios.",
			ResponseType: ResponseText,
			Priority:     1,
			IsActive:     true,
		},
		{
			ID:           "schedule",
			Keywords:     []string{"agendar", "marcar", "remarcar", "consulta", "horário", "horario"},
			Response:     "Para agendar ou remarcar sua sessão, responda com o dia e o período de sua preferência que nossa recepção confirma.",
			ResponseType: ResponseText,
			Priority:     3,
			IsActive:     true,
		},
		{
			ID:           "confirm",
			Keywords:     []string{"sim", "confirmo", "confirmado"},
			Response:     "Obrigado! Sua presença está confirmada.",
			ResponseType: ResponseText,
			Priority:     4,
			IsActive:     true,
		},
		{
			ID:           "exercises",
			Keywords:     []string{"exercício", "exercicio", "alongamento"},
			Response:     "Seus exercícios estão no plano enviado pelo fisioterapeuta. Em caso de dúvida, é só perguntar.",
			ResponseType: ResponseText,
			Priority:     5,
			IsActive:     true,
		},
		{
			ID:           "pain",
			Keywords:     []string{"dor", "doendo", "machuquei", "lesão", "lesao"},
			Response:     "Sinto muito que você esteja com dor. Vou transferir você para um fisioterapeuta.",
			ResponseType: ResponseTransfer,
			TransferTo:   "therapist",
			Priority:     10,
			IsActive:     true,
		},
		{
			ID:           "billing",
			Keywords:     []string{"pagamento", "boleto", "pix", "valor"},
			Response:     "Vou encaminhar sua mensagem para o financeiro.",
			ResponseType: ResponseTransfer,
			TransferTo:   "billing",
			Priority:     20,
			IsActive:     true,
		},
	}
}
