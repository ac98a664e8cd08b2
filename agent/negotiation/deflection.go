package negotiation

import (
	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
)

// Questions about the reference prices the agent itself brings up.
var deflectPhrases = []string{
	"which company", "which vendor", "which travels", "which agency", "which operator", "who gave you",
	"who quoted", "who told you", "who is giving", "who offered", "where did you get", "other vendor",
	"competitor", "their number", "their name",
	"kaun si company", "kaunsi company", "kis company", "kisne diya", "kisne bola", "kaun de raha",
	"kahan se mila", "kis vendor", "kaun hai wo",
	"कौन सी कंपनी", "किसने दिया", "किसने बोला",
}

// IsDeflectable reports whether answering would reveal the agent's
// negotiation reference rather than a customer detail.
func IsDeflectable(intent contractx.VendorIntent, utterance string) bool {
	return lang.Matches(intent.HumanInputQuestion, deflectPhrases) || lang.Matches(utterance, deflectPhrases)
}
