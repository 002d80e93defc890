package compose

import (
	"fmt"
	"strings"

	"github.com/ppiankov/auditrag/internal/model"
)

// SystemPrompt is the role instruction sent with every completion
const SystemPrompt = "Você é um assistente de auditoria técnica especializado em compliance."

const contextSeparator = "\n\n---\n\n"

const groundingTemplate = `INSTRUÇÕES CRÍTICAS:
1. Responda APENAS com base no contexto fornecido abaixo
2. Se a informação não estiver no contexto, diga explicitamente "não encontrei essa informação nos documentos"
3. NUNCA invente ou especule informações
4. Cite especificamente qual documento suporta cada afirmação
5. Use linguagem técnica precisa
6. Mantenha respostas objetivas e concisas (máximo 3 parágrafos)

CONTEXTO DOS DOCUMENTOS APROVADOS:
%s

PERGUNTA: %s

RESPOSTA (baseada APENAS no contexto acima):`

// BuildContext joins evidence into labelled segments
func BuildContext(evidence model.EvidenceSet) string {
	segments := make([]string, 0, len(evidence))
	for _, item := range evidence {
		segments = append(segments, fmt.Sprintf("Documento: %s (Página %d)\n%s", item.Source, item.Page, item.Content))
	}
	return strings.Join(segments, contextSeparator)
}

// BuildPrompt renders the grounding contract around the context and the question
func BuildPrompt(question string, evidence model.EvidenceSet) string {
	return fmt.Sprintf(groundingTemplate, BuildContext(evidence), question)
}
