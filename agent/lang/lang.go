// Package lang holds the multilingual phrase tables the negotiation engine
// matches vendor and agent utterances against.
package lang

import (
	"strconv"
	"strings"
	"unicode"
)

const (
	English = "en"
	Hindi   = "hi"
	Telugu  = "te"
	Tamil   = "ta"
	Kannada = "kn"
)

var names = map[string]string{
	English: "English",
	Hindi:   "Hindi",
	Telugu:  "Telugu",
	Tamil:   "Tamil",
	Kannada: "Kannada",
}

// Normalize maps a language code or name to one of the supported codes.
// Unknown values fall back to English.
func Normalize(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(c, "-_"); i > 0 {
		c = c[:i]
	}
	if _, ok := names[c]; ok {
		return c
	}
	for k, name := range names {
		if strings.EqualFold(name, c) {
			return k
		}
	}
	return English
}

func Name(code string) string {
	return names[Normalize(code)]
}

// fold lower-cases text, turns punctuation into spaces and pads it so that
// phrases can be matched on word boundaries with a plain substring search.
func fold(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

func containsAny(folded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(folded, " "+p+" ") {
			return true
		}
	}
	return false
}

// tableFor returns the phrases of the active language plus English; vendors
// switch into English words mid-sentence all the time.
func tableFor(table map[string][]string, code string) []string {
	code = Normalize(code)
	if code == English {
		return table[English]
	}
	out := make([]string, 0, len(table[code])+len(table[English]))
	out = append(out, table[code]...)
	return append(out, table[English]...)
}

func allOf(table map[string][]string) []string {
	var out []string
	for _, phrases := range table {
		out = append(out, phrases...)
	}
	return out
}

var endingPhrases = map[string][]string{
	English: {"thank you", "thanks", "bye", "goodbye", "confirm", "confirmed", "booked", "see you", "have a nice day"},
	Hindi: {
		"dhanyavaad", "dhanyawad", "shukriya", "pakka", "namaste", "theek hai confirm",
		"धन्यवाद", "शुक्रिया", "पक्का", "नमस्ते",
	},
	Telugu:  {"dhanyavaadalu", "dhanyavadalu", "ధన్యవాదాలు"},
	Tamil:   {"nandri", "நன்றி"},
	Kannada: {"dhanyavaada", "dhanyavadagalu", "ಧನ್ಯವಾದ"},
}

var refusalPhrases = map[string][]string{
	English: {
		"this is final", "final price", "final rate", "last price", "last rate", "fixed price", "fixed rate",
		"can t reduce", "cannot reduce", "can not reduce", "won t reduce", "no discount", "not possible",
		"can t do", "cannot do", "no negotiation", "no bargaining", "take it or leave it", "not negotiable",
	},
	Hindi: {
		"final hai", "fix hai", "fixed hai", "isse kam nahi", "kam nahi hoga", "kam nahi", "nahi ho payega",
		"nahi hoga", "last hai", "bas itna hi", "mol bhav nahi",
		"फाइनल", "कम नहीं", "नहीं हो पाएगा", "नहीं होगा", "फिक्स",
	},
	Telugu:  {"taggadu", "taggincha lenu", "kudaradu", "avvadu", "తగ్గదు", "కుదరదు"},
	Tamil:   {"kuraikka mudiyathu", "mudiyaadhu", "mudiyathu", "முடியாது"},
	Kannada: {"kammi aagalla", "aagalla", "aaguvudilla", "ಆಗಲ್ಲ"},
}

var agreementPhrases = map[string][]string{
	English: {"yes", "ok", "okay", "agreed", "agree", "deal", "fine", "done", "sure", "alright", "accepted"},
	Hindi: {
		"haan", "haa", "han", "ji haan", "theek hai", "thik hai", "chalega", "manzoor", "kar denge",
		"हाँ", "हां", "ठीक है", "चलेगा", "मंज़ूर",
	},
	Telugu:  {"sare", "avunu", "సరే", "అవును"},
	Tamil:   {"sari", "aamaa", "சரி", "ஆமா"},
	Kannada: {"sari", "houdu", "ಸರಿ", "ಹೌದು"},
}

// rateAskPhrases match the agent asking for the vendor's price.
var rateAskPhrases = map[string][]string{
	English: {
		"what is your rate", "what s your rate", "your best rate", "what is the rate", "what would be the rate",
		"what is your price", "how much will it cost", "how much would it cost", "how much will you charge",
		"how much do you charge", "what will be the fare", "what is the fare",
	},
	Hindi:   {"kitna hoga", "rate kya", "kya rate", "kitne ka", "kitna lagega", "kiraya kitna", "कितना होगा", "रेट क्या", "कितना लगेगा"},
	Telugu:  {"entha avutundi", "rate entha", "ఎంత"},
	Tamil:   {"evvalavu", "எவ்வளவு"},
	Kannada: {"eshtu aagutte", "eshtu", "ಎಷ್ಟು"},
}

var inclusivePhrases = []string{
	"all inclusive", "all in", "inclusive", "including", "included", "everything included", "with toll",
	"sab milake", "sab mila ke", "sab shamil", "शामिल", "सब मिलाकर",
}

var extraChargePhrases = map[string][]string{
	"toll":             {"toll", "tolls", "टोल"},
	"parking":          {"parking", "पार्किंग"},
	"driver_allowance": {"driver allowance", "driver bata", "bata", "driver charge", "ड्राइवर भत्ता"},
	"night_charge":     {"night charge", "night charges", "night allowance", "raat ka charge"},
	"state_tax":        {"state tax", "border tax", "permit", "inter state"},
	"gst":              {"gst", "tax extra"},
	"waiting":          {"waiting charge", "waiting charges"},
}

var extraCues = []string{"extra", "alag", "separate", "separately", "additional", "excluding", "not included", "अलग", "एक्स्ट्रा"}

// ContainsEnding reports call-ending language in the active language.
func ContainsEnding(text, code string) bool {
	return containsAny(fold(text), tableFor(endingPhrases, code))
}

// IsRefusal matches any supported language.
func IsRefusal(text string) bool {
	return containsAny(fold(text), allOf(refusalPhrases))
}

func IsAgreement(text string) bool {
	return containsAny(fold(text), allOf(agreementPhrases))
}

func IsRateAsk(text string) bool {
	return containsAny(fold(text), allOf(rateAskPhrases))
}

func IsAllInclusive(text string) bool {
	return containsAny(fold(text), inclusivePhrases)
}

// ExtraCharges returns the charge types the text says are excluded from
// the quote. Mentions framed as included do not count.
func ExtraCharges(text string) []string {
	f := fold(text)
	var found []string
	for _, kind := range chargeKinds {
		if containsAny(f, extraChargePhrases[kind]) {
			found = append(found, kind)
		}
	}
	if len(found) == 0 {
		return nil
	}
	if containsAny(f, inclusivePhrases) && !containsAny(f, extraCues) {
		return nil
	}
	return found
}

var chargeKinds = []string{"toll", "parking", "driver_allowance", "night_charge", "state_tax", "gst", "waiting"}

// FormatPrice renders a rupee amount for speech.
func FormatPrice(p float64) string {
	return "₹" + strconv.FormatFloat(p, 'f', 0, 64)
}

// ClosingLine is the graceful goodbye used on a forced exit.
func ClosingLine(code string, lastPrice *float64) string {
	switch Normalize(code) {
	case Hindi:
		if lastPrice != nil {
			return "Aapka samay dene ke liye dhanyavaad. Humne aapka " + FormatPrice(*lastPrice) +
				" ka rate note kar liya hai. Agar hum aage badhte hain to aapko call karenge. Namaste."
		}
		return "Aapka samay dene ke liye dhanyavaad. Zarurat hui to hum aapko dobara call karenge. Namaste."
	default:
		if lastPrice != nil {
			return "Thank you for your time. I have noted your price of " + FormatPrice(*lastPrice) +
				". We will get back to you shortly if we decide to go ahead. Goodbye."
		}
		return "Thank you for your time. We will get back to you if we need anything further. Goodbye."
	}
}

// HoldingLine is said while an operator answer is awaited.
func HoldingLine(code string) string {
	if Normalize(code) == Hindi {
		return "Ek minute rukiye, abhi check karke batate hain."
	}
	return "One moment please, let me check that for you."
}

// FallbackLine replaces an operator answer that never arrived.
func FallbackLine(code string) string {
	if Normalize(code) == Hindi {
		return "Yeh detail hum thodi der mein confirm kar denge. Abhi rate par baat karein?"
	}
	return "I will confirm that detail with you shortly. Could we settle the price for now?"
}

// Matches reports whether any phrase occurs in text on word boundaries.
func Matches(text string, phrases []string) bool {
	return containsAny(fold(text), phrases)
}
