package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat-dispatcher/pkg/models"
)

func TestLoadKnowledgeBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	body := `{"agents": {"sales": {"fallback": "Ask me about cameras.", "topics": [
		{"name": "cameras", "keywords": ["camera", "lens"], "answer": "Mirrorless cameras start at $599."}
	]}}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	kb, err := LoadKnowledgeBase(path)
	require.NoError(t, err)

	topic, ok := kb.Lookup(models.AgentSales, "Which camera lens do you recommend?")
	require.True(t, ok)
	assert.Equal(t, "cameras", topic.Name)

	_, ok = kb.Lookup(models.AgentSales, "laptops?")
	assert.False(t, ok)
	assert.Equal(t, "Ask me about cameras.", kb.Fallback(models.AgentSales))
}

func TestLoadKnowledgeBase_Errors(t *testing.T) {
	_, err := LoadKnowledgeBase(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = LoadKnowledgeBase(path)
	assert.Error(t, err)
}

func TestDefaultKnowledgeBase_Lookup(t *testing.T) {
	kb := DefaultKnowledgeBase()

	topic, ok := kb.Lookup(models.AgentLogistics, "I want a refund for my order")
	require.True(t, ok)
	assert.Equal(t, "returns", topic.Name)

	assert.Contains(t, kb.Fallback("unknown-agent"), "What can I do for you?")
}
