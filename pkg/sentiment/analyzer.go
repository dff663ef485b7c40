package sentiment

import (
	"math"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"support-chat-dispatcher/pkg/models"
)

const (
	LabelVeryNegative = "very_negative"
	LabelNegative     = "negative"
	LabelNeutral      = "neutral"
	LabelPositive     = "positive"
	LabelVeryPositive = "very_positive"

	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

var negativeKeywords = []string{
	"angry", "frustrated", "terrible", "awful", "worst", "horrible",
	"disappointed", "upset", "furious", "mad", "annoyed", "hate",
	"useless", "poor", "bad", "wrong", "broken", "failed", "error",
}

var urgentKeywords = []string{
	"urgent", "emergency", "immediately", "asap", "critical",
	"important", "serious", "now", "help", "please help",
}

// polarity lexicon, scores in [-1, 1]
var lexicon = map[string]float64{
	"angry": -0.5, "frustrated": -0.7, "frustrating": -0.7, "terrible": -1.0,
	"awful": -1.0, "worst": -1.0, "horrible": -1.0, "disappointed": -0.75,
	"disappointing": -0.6, "upset": -0.6, "furious": -1.0, "mad": -0.6,
	"annoyed": -0.5, "annoying": -0.6, "hate": -0.8, "useless": -0.5,
	"poor": -0.4, "bad": -0.7, "wrong": -0.5, "broken": -0.4, "failed": -0.5,
	"error": -0.3, "slow": -0.3, "late": -0.3, "ridiculous": -0.6,
	"unacceptable": -0.8, "scam": -0.9, "refund": -0.1, "damaged": -0.6,
	"good": 0.7, "great": 0.8, "excellent": 1.0, "amazing": 0.6,
	"awesome": 1.0, "love": 0.5, "nice": 0.6, "perfect": 1.0, "happy": 0.8,
	"thanks": 0.2, "thank": 0.2, "helpful": 0.5, "fast": 0.2, "best": 1.0,
	"fantastic": 0.4, "wonderful": 1.0, "glad": 0.5, "pleased": 0.5,
}

var negators = map[string]bool{
	"not": true, "no": true, "never": true, "don't": true, "dont": true,
	"isn't": true, "isnt": true, "wasn't": true, "wasnt": true, "didn't": true, "didnt": true,
}

var intensifiers = map[string]float64{
	"very": 1.3, "really": 1.3, "extremely": 1.5, "so": 1.2, "totally": 1.3, "absolutely": 1.4,
}

// Analyzer scores customer messages with a keyword lexicon and derives the
// urgency and escalation flags used by the handoff policy.
type Analyzer struct {
	logger *logrus.Logger
}

func NewAnalyzer(logger *logrus.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

func (a *Analyzer) Analyze(text string) models.Sentiment {
	lower := strings.ToLower(text)
	tokens := tokenize(lower)

	polarity := round3(Polarity(tokens))
	hasNegative := containsKeyword(lower, tokens, negativeKeywords)
	hasUrgent := containsKeyword(lower, tokens, urgentKeywords)
	urgency := Urgency(polarity, hasNegative, hasUrgent)
	escalate, reason := escalation(polarity, hasNegative, hasUrgent, urgency)

	result := models.Sentiment{
		Polarity:            polarity,
		Label:               Label(polarity),
		Urgency:             urgency,
		RequiresEscalation:  escalate,
		EscalationReason:    reason,
		HasNegativeKeywords: hasNegative,
		HasUrgentKeywords:   hasUrgent,
	}

	a.logger.WithFields(logrus.Fields{
		"polarity": result.Polarity,
		"label":    result.Label,
		"urgency":  result.Urgency,
	}).Debug("Sentiment analyzed")

	return result
}

// Polarity averages the lexicon scores of the tokens. A negator flips the
// next scored word and an intensifier scales it.
func Polarity(tokens []string) float64 {
	var sum float64
	var scored int
	negate := false
	boost := 1.0

	for _, tok := range tokens {
		if negators[tok] {
			negate = true
			continue
		}
		if f, ok := intensifiers[tok]; ok {
			boost *= f
			continue
		}
		score, ok := lexicon[tok]
		if !ok {
			continue
		}
		score *= boost
		if negate {
			score = -0.5 * score
		}
		sum += score
		scored++
		negate = false
		boost = 1.0
	}

	if scored == 0 {
		return 0
	}
	return math.Max(-1, math.Min(1, sum/float64(scored)))
}

func Label(polarity float64) string {
	switch {
	case polarity < -0.5:
		return LabelVeryNegative
	case polarity < -0.1:
		return LabelNegative
	case polarity <= 0.1:
		return LabelNeutral
	case polarity <= 0.5:
		return LabelPositive
	default:
		return LabelVeryPositive
	}
}

func Urgency(polarity float64, hasNegative, hasUrgent bool) string {
	switch {
	case polarity < -0.5 && hasUrgent:
		return UrgencyCritical
	case polarity < -0.3 || hasUrgent:
		return UrgencyHigh
	case polarity < -0.1 || hasNegative:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

func escalation(polarity float64, hasNegative, hasUrgent bool, urgency string) (bool, string) {
	switch {
	case urgency == UrgencyCritical:
		return true, "Critical urgency detected with very negative sentiment"
	case polarity < -0.6:
		return true, "Very negative customer sentiment"
	case hasNegative && hasUrgent:
		return true, "Negative sentiment with urgent request"
	default:
		return false, ""
	}
}

// Modifier suggests how a reply should be adjusted for the customer's mood
type Modifier struct {
	Tone                  string `json:"tone"`
	EmpathyLevel          string `json:"empathy_level"`
	UrgencyAcknowledgment bool   `json:"urgency_acknowledgment"`
	ApologyNeeded         bool   `json:"apology_needed"`
}

func ResponseModifier(s models.Sentiment) Modifier {
	m := Modifier{Tone: "professional", EmpathyLevel: "standard"}

	switch s.Label {
	case LabelVeryNegative, LabelNegative:
		m.Tone = "apologetic"
		m.EmpathyLevel = "high"
		m.ApologyNeeded = true
	case LabelPositive, LabelVeryPositive:
		m.Tone = "friendly"
	}
	if s.Urgency == UrgencyHigh || s.Urgency == UrgencyCritical {
		m.UrgencyAcknowledgment = true
	}
	return m
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// containsKeyword matches single words on token boundaries and multi-word
// phrases as substrings.
func containsKeyword(lower string, tokens []string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(lower, kw) {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if tok == kw {
				return true
			}
		}
	}
	return false
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
