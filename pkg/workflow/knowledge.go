package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"support-chat-dispatcher/pkg/models"
)

// Topic is one knowledge base entry an agent can answer from
type Topic struct {
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Answer   string   `json:"answer"`
}

// KnowledgeBase holds the topics of every agent, loaded once at startup
type KnowledgeBase struct {
	topics   map[string][]Topic
	fallback map[string]string
}

type knowledgeFile struct {
	Agents map[string]struct {
		Fallback string  `json:"fallback"`
		Topics   []Topic `json:"topics"`
	} `json:"agents"`
}

// LoadKnowledgeBase reads a JSON knowledge base of the form
// {"agents": {"sales": {"fallback": "...", "topics": [...]}}}
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base: %w", err)
	}

	var file knowledgeFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge base: %w", err)
	}

	kb := &KnowledgeBase{
		topics:   make(map[string][]Topic),
		fallback: make(map[string]string),
	}
	for agent, entry := range file.Agents {
		kb.topics[agent] = entry.Topics
		kb.fallback[agent] = entry.Fallback
	}
	return kb, nil
}

// DefaultKnowledgeBase is the built-in store catalogue used when no file is configured
func DefaultKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		topics: map[string][]Topic{
			models.AgentSales: {
				{Name: "laptops", Keywords: []string{"laptop", "laptops", "notebook"}, Answer: "Our laptops start at $499 for everyday models and go up to $2,499 for high-end workstations. Would you like a recommendation for work, gaming or study?"},
				{Name: "phones", Keywords: []string{"phone", "phones", "smartphone", "iphone"}, Answer: "We carry the latest smartphones from $299. Flagship models are in stock with same-day pickup in most stores."},
				{Name: "tvs", Keywords: []string{"tv", "television"}, Answer: "Our TVs range from 32\" HD models at $199 to 85\" OLED models. All TVs include free delivery."},
			},
			models.AgentMarketing: {
				{Name: "promotions", Keywords: []string{"promotion", "discount", "deal", "sale", "coupon"}, Answer: "This week you can save up to 20% on selected audio products, and loyalty members get an extra 5% at checkout."},
				{Name: "loyalty", Keywords: []string{"loyalty", "points", "member"}, Answer: "Loyalty members earn 1 point per dollar spent. 100 points convert to a $5 voucher."},
			},
			models.AgentSupport: {
				{Name: "warranty", Keywords: []string{"warranty", "repair"}, Answer: "All products include a 1-year manufacturer warranty. Extended coverage up to 3 years is available. I can start a repair request for you."},
				{Name: "troubleshooting", Keywords: []string{"not working", "broken", "reset", "error", "issue", "problem"}, Answer: "Sorry to hear that. Please try restarting the device and holding the power button for 10 seconds to reset it. If that does not help I can open a support ticket."},
			},
			models.AgentLogistics: {
				{Name: "tracking", Keywords: []string{"track", "tracking", "where", "status"}, Answer: "You can track your order with the order number from your confirmation email. Standard delivery takes 3 to 5 business days."},
				{Name: "returns", Keywords: []string{"return", "returns", "refund"}, Answer: "Items can be returned within 30 days in original packaging. Refunds are issued to the original payment method within 5 business days."},
			},
		},
		fallback: map[string]string{
			models.AgentOrchestrator: "Hello! I can help with products and prices, promotions, technical support, and orders. What can I do for you?",
			models.AgentSales:        "I can help you find the right product. Which category are you interested in?",
			models.AgentMarketing:    "We run new promotions every week. Would you like to hear about current deals?",
			models.AgentSupport:      "I can help with technical issues and warranties. Could you describe the problem?",
			models.AgentLogistics:    "I can help with orders, shipping and returns. Do you have your order number?",
		},
	}
}

// Lookup returns the best matching topic of agent for query
func (kb *KnowledgeBase) Lookup(agent, query string) (Topic, bool) {
	lower := strings.ToLower(query)

	var best Topic
	bestScore := 0
	for _, topic := range kb.topics[agent] {
		score := 0
		for _, kw := range topic.Keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = topic, score
		}
	}
	return best, bestScore > 0
}

// Fallback is the generic answer of agent when no topic matches
func (kb *KnowledgeBase) Fallback(agent string) string {
	if answer, ok := kb.fallback[agent]; ok {
		return answer
	}
	return kb.fallback[models.AgentOrchestrator]
}
