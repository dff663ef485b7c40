package workflow

import (
	"strings"
	"unicode"

	"support-chat-dispatcher/pkg/models"
)

const (
	IntentSales     = "sales"
	IntentMarketing = "marketing"
	IntentSupport   = "support"
	IntentOrders    = "orders"
	IntentGeneral   = "general"

	// UnclassifiedConfidence is reported when no keyword matched at all
	UnclassifiedConfidence = 0.25
)

// intentOrder breaks ties between equally scored intents
var intentOrder = []string{IntentOrders, IntentSupport, IntentSales, IntentMarketing, IntentGeneral}

var intentKeywords = map[string][]string{
	IntentSales: {
		"price", "prices", "cost", "buy", "purchase", "laptop", "laptops", "phone", "phones",
		"tv", "camera", "headphones", "stock", "available", "availability", "recommend",
		"compare", "cheapest", "model", "specs",
	},
	IntentMarketing: {
		"promotion", "promotions", "discount", "discounts", "coupon", "sale", "deal", "deals",
		"loyalty", "points", "newsletter", "campaign", "offer", "offers", "black friday",
	},
	IntentSupport: {
		"broken", "not working", "doesn't work", "repair", "warranty", "troubleshoot",
		"setup", "set up", "install", "error", "issue", "problem", "fix", "reset", "battery",
	},
	IntentOrders: {
		"order", "orders", "tracking", "track", "shipping", "shipment", "delivery",
		"deliver", "return", "returns", "refund", "package", "arrive", "arrived",
	},
	IntentGeneral: {
		"hello", "hi", "hey", "good morning", "good evening", "thanks", "thank you", "bye",
		"ok", "okay", "never mind", "nevermind", "forget it",
	},
}

// agentForIntent maps each intent to the agent that answers it
var agentForIntent = map[string]string{
	IntentSales:     models.AgentSales,
	IntentMarketing: models.AgentMarketing,
	IntentSupport:   models.AgentSupport,
	IntentOrders:    models.AgentLogistics,
	IntentGeneral:   models.AgentOrchestrator,
}

type Classification struct {
	Intent     string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Hits       map[string]int `json:"hits,omitempty"`
}

// Classify scores each intent by keyword hits. Confidence is the share of
// all hits taken by the winning intent.
func Classify(text string) Classification {
	lower := strings.ToLower(text)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	words := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		words[tok] = true
	}

	hits := make(map[string]int)
	total := 0
	for intent, keywords := range intentKeywords {
		for _, kw := range keywords {
			var matched bool
			if strings.Contains(kw, " ") {
				matched = strings.Contains(lower, kw)
			} else {
				matched = words[kw]
			}
			if matched {
				hits[intent]++
				total++
			}
		}
	}

	if total == 0 {
		return Classification{Intent: IntentGeneral, Confidence: UnclassifiedConfidence}
	}

	best := ""
	for _, intent := range intentOrder {
		if hits[intent] > hits[best] {
			best = intent
		}
	}

	return Classification{
		Intent:     best,
		Confidence: float64(hits[best]) / float64(total),
		Hits:       hits,
	}
}

// AgentFor returns the agent responsible for intent, defaulting to the orchestrator
func AgentFor(intent string) string {
	if agent, ok := agentForIntent[intent]; ok {
		return agent
	}
	return models.AgentOrchestrator
}
