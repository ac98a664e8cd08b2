package negotiation

import (
	"fmt"
	"strings"

	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// OpeningLine is the first thing the agent says on a call.
func OpeningLine(c statex.NegotiationContext) string {
	trip := tripSummary(c.Requirements)
	if c.Purpose == statex.PurposeVerify {
		if lang.Normalize(c.Language) == lang.Hindi {
			return "Namaste, main aapse pehle hui booking confirm karne ke liye call kar rahi hoon. " + trip
		}
		return "Hello, I am calling back to confirm the booking we discussed earlier. " + trip
	}
	if lang.Normalize(c.Language) == lang.Hindi {
		return "Namaste, kya meri baat " + nameOr(c.VendorName, "aapse") + " se ho rahi hai? " + trip + " Iska kitna hoga?"
	}
	return "Hello, am I speaking with " + nameOr(c.VendorName, "the travel desk") + "? " + trip + " What would be the fare?"
}

func nameOr(name, fallback string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return fallback
}

func tripSummary(r *statex.Requirements) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I need a %s from %s to %s on %s", nameOr(r.VehicleType, "cab"), r.PickupLocation, r.DropLocation, r.TravelDate)
	if r.TravelTime != "" {
		fmt.Fprintf(&b, " at %s", r.TravelTime)
	}
	if r.Passengers > 0 {
		fmt.Fprintf(&b, " for %d passengers", r.Passengers)
	}
	if r.TripType == "round_trip" {
		b.WriteString(", round trip")
	}
	b.WriteString(".")
	return b.String()
}

// templateUtterance renders a decision without the text generator.
func templateUtterance(d Decision, language string, quoted *float64) string {
	hindi := lang.Normalize(language) == lang.Hindi
	price := func(p *float64) string {
		if p == nil {
			return ""
		}
		return lang.FormatPrice(*p)
	}
	switch d.Kind {
	case KindForcedExit:
		return d.ForcedExitText
	case KindCounterMarketHigh, KindCounterMarketLow, KindMatchBenchmark:
		if hindi {
			return "Kya aap " + price(d.CounterPrice) + " mein kar sakte hain?"
		}
		return "Could you do it for " + price(d.CounterPrice) + "?"
	case KindAskFinal:
		if hindi {
			return "Kya " + price(quoted) + " aapka final rate hai? Thoda kam ho sakta hai?"
		}
		return "Is " + price(quoted) + " your final price, or could you do a little better?"
	case KindAskAllInclusive:
		if hindi {
			return "Toll aur parking sab milake total kitna hoga?"
		}
		return "What would be the total including toll, parking and all other charges?"
	case KindConfirmDetails, KindClose:
		if hindi {
			return "Theek hai, " + price(quoted) + " pakka. Main details confirm karke aapko batati hoon. Dhanyavaad."
		}
		return "Great, " + price(quoted) + " it is. I will confirm the details with you shortly. Thank you."
	case KindDeflect:
		if hindi {
			return "Woh main share nahi kar sakti, par aapka best rate kya hoga?"
		}
		return "I am afraid I cannot share that, but what is the best you can offer?"
	case KindHoldForHuman:
		return lang.HoldingLine(language)
	case KindAskRate:
		if hindi {
			return "Is trip ka kitna hoga?"
		}
		return "What would be your fare for this trip?"
	default:
		if hindi {
			return "Ji, samajh gayi. Aapka best rate kya hoga?"
		}
		return "I understand. What is the best fare you can offer?"
	}
}
