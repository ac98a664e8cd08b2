package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/classifier.txt
	classifierRaw string

	//go:embed template/negotiator.txt
	negotiatorRaw string

	//go:embed template/verifier.txt
	verifierRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	Classifier string
	Negotiator string
	Verifier   string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Classifier: strings.TrimSpace(classifierRaw),
		Negotiator: strings.TrimSpace(negotiatorRaw),
		Verifier:   strings.TrimSpace(verifierRaw),
	}
}
