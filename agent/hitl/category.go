package hitl

import (
	"strings"
	"unicode"

	"github.com/tanpawarit/Chative-Vendor-Negotiation/agent/lang"
)

const (
	CategoryAddress        = "address"
	CategoryDropAddress    = "drop_address"
	CategoryContact        = "contact"
	CategoryCustomerName   = "customer_name"
	CategoryPassengers     = "passengers"
	CategoryVehicle        = "vehicle"
	CategoryACPreference   = "ac_preference"
	CategoryLuggage        = "luggage"
	CategoryTripType       = "trip_type"
	CategoryWaitingTime    = "waiting_time"
	CategoryStops          = "stops"
	CategoryPayment        = "payment"
	CategoryAdvancePayment = "advance_payment"
	CategoryChildSeat      = "child_seat"
	CategorySpecialNeeds   = "special_needs"
	CategoryClarification  = "clarification"
	CategoryGeneral        = "general"
)

// reasonCategories maps classifier reason codes onto the taxonomy.
var reasonCategories = map[string]string{
	"address": CategoryAddress, "exact_pickup": CategoryAddress, "pickup": CategoryAddress,
	"pickup_address": CategoryAddress, "pickup_location": CategoryAddress, "exact_address": CategoryAddress,
	"location": CategoryAddress,

	"drop_address": CategoryDropAddress, "drop": CategoryDropAddress, "exact_drop": CategoryDropAddress,
	"drop_location": CategoryDropAddress, "destination": CategoryDropAddress,

	"contact": CategoryContact, "phone": CategoryContact, "phone_number": CategoryContact,
	"mobile": CategoryContact, "contact_number": CategoryContact,

	"customer_name": CategoryCustomerName, "name": CategoryCustomerName, "passenger_name": CategoryCustomerName,

	"passengers": CategoryPassengers, "passenger_count": CategoryPassengers, "people": CategoryPassengers,

	"vehicle": CategoryVehicle, "vehicle_type": CategoryVehicle, "car": CategoryVehicle, "car_type": CategoryVehicle,

	"ac_preference": CategoryACPreference, "ac": CategoryACPreference,

	"luggage": CategoryLuggage, "bags": CategoryLuggage,

	"trip_type": CategoryTripType, "round_trip": CategoryTripType, "one_way": CategoryTripType,

	"waiting_time": CategoryWaitingTime, "waiting": CategoryWaitingTime,

	"stops": CategoryStops, "stopover": CategoryStops, "intermediate_stops": CategoryStops,

	"payment": CategoryPayment, "payment_mode": CategoryPayment, "payment_method": CategoryPayment,

	"advance_payment": CategoryAdvancePayment, "advance": CategoryAdvancePayment, "booking_amount": CategoryAdvancePayment,

	"child_seat": CategoryChildSeat, "baby_seat": CategoryChildSeat,

	"special_needs": CategorySpecialNeeds, "wheelchair": CategorySpecialNeeds, "accessibility": CategorySpecialNeeds,

	"clarification": CategoryClarification, "unclear": CategoryClarification,

	"general": CategoryGeneral, "other": CategoryGeneral, "unknown": CategoryGeneral,
}

type keywordRule struct {
	category string
	phrases  []string
}

// Evaluated in order; more specific categories come first.
var questionRules = []keywordRule{
	{CategoryDropAddress, []string{
		"drop", "drop off", "dropping", "destination", "drop address", "kahan chhodna", "kaha chodna",
		"kahan utarna", "utarna", "छोड़ना", "ड्रॉप",
	}},
	{CategoryAdvancePayment, []string{"advance", "booking amount", "token amount", "एडवांस"}},
	{CategoryChildSeat, []string{"child seat", "baby seat", "infant seat", "bacche ki seat"}},
	{CategorySpecialNeeds, []string{"wheelchair", "elderly", "senior citizen", "disabled", "medical", "patient"}},
	{CategoryPassengers, []string{
		"how many people", "how many passengers", "number of passengers", "passengers", "kitne log",
		"kitne aadmi", "log honge", "कितने लोग",
	}},
	{CategoryContact, []string{"phone number", "contact", "mobile", "number", "whatsapp", "नंबर"}},
	{CategoryCustomerName, []string{"name", "your name", "naam", "नाम"}},
	{CategoryLuggage, []string{"luggage", "bags", "baggage", "saamaan", "saman", "सामान"}},
	{CategoryACPreference, []string{"ac", "non ac", "a c", "air conditioned", "एसी"}},
	{CategoryVehicle, []string{"which car", "vehicle", "sedan", "suv", "innova", "hatchback", "tempo traveller", "car", "gaadi", "gadi", "गाड़ी"}},
	{CategoryTripType, []string{"round trip", "one way", "return", "wapas", "wapsi", "आना जाना", "वापस"}},
	{CategoryWaitingTime, []string{"waiting", "wait", "rukna", "rukenge", "इंतज़ार"}},
	{CategoryStops, []string{"stop", "stops", "stopover", "beech mein", "रुकना"}},
	{CategoryPayment, []string{"payment", "pay", "cash", "upi", "online", "bhugtan", "भुगतान"}},
	{CategoryAddress, []string{
		"pickup", "pick up", "address", "exact location", "location", "where should i come", "kahan se",
		"kaha se", "kahan aana", "pata", "पता", "पिकअप", "ekkada", "enga", "elli",
	}},
	{CategoryClarification, []string{"what do you mean", "repeat", "samjha nahi", "matlab", "pardon"}},
}

// NormalizeCategory maps a classifier reason code and the free-text question
// to a cache category. Known reason codes win, then question keywords, then
// the reason code itself; with neither the category is general.
func NormalizeCategory(reason, question string) string {
	code := snake(reason)
	if c, ok := reasonCategories[code]; ok {
		return c
	}
	for _, rule := range questionRules {
		if lang.Matches(question, rule.phrases) {
			return rule.category
		}
	}
	if code != "" {
		return code
	}
	return CategoryGeneral
}

func snake(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
