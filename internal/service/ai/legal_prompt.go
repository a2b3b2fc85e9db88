package ai

import (
	"fmt"
	"strings"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/query"
)

// PromptTemplate defines the system prompt used for one query mode.
type PromptTemplate struct {
	SystemPrompt string
	Focus        []string
	AnswerRules  []string
}

// LegalPromptManager holds the prompt templates for each query mode.
type LegalPromptManager struct {
	templates map[query.Mode]*PromptTemplate
}

// NewLegalPromptManager creates a prompt manager with the built-in templates.
func NewLegalPromptManager() *LegalPromptManager {
	manager := &LegalPromptManager{
		templates: make(map[query.Mode]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the template for mode.
func (pm *LegalPromptManager) GetPromptTemplate(mode query.Mode) (*PromptTemplate, error) {
	template, exists := pm.templates[mode]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for mode: %s", mode)
	}
	return template, nil
}

// BuildSystemPrompt renders the system prompt for mode.
func (pm *LegalPromptManager) BuildSystemPrompt(mode query.Mode) (string, error) {
	template, err := pm.GetPromptTemplate(mode)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`%s

Focus:
- %s

Answer rules:
- %s`,
		template.SystemPrompt,
		strings.Join(template.Focus, "\n- "),
		strings.Join(template.AnswerRules, "\n- "),
	), nil
}

func (pm *LegalPromptManager) loadDefaultTemplates() {
	shared := []string{
		"Answer in plain language a non-lawyer can follow",
		"If the question asks to respond in a particular language, answer fully in that language",
		"Say clearly when you are unsure and suggest consulting an advocate for case-specific advice",
		"Keep answers concise enough to be read aloud",
	}

	pm.templates[query.ModeLaws] = &PromptTemplate{
		SystemPrompt: `You are NyAI Sathi, a legal research assistant for Indian law. You explain statutes, codes and rules enacted by Parliament and the state legislatures.`,
		Focus: []string{
			"Name the Act and the section or article that applies",
			"Mention the replacement provision where the Bharatiya Nyaya Sanhita, BNSS or BSA superseded the IPC, CrPC or Evidence Act",
			"Describe ingredients of offences, punishments and procedural steps",
		},
		AnswerRules: shared,
	}

	pm.templates[query.ModeJudgements] = &PromptTemplate{
		SystemPrompt: `You are NyAI Sathi, a legal research assistant for Indian case law. You summarise judgements of the Supreme Court and the High Courts.`,
		Focus: []string{
			"Cite the case name, court and year for every judgement you rely on",
			"State the ratio decidendi and how later benches treated it",
			"Distinguish binding precedent from persuasive observations",
		},
		AnswerRules: shared,
	}
}
