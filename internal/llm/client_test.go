package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSystem(t *testing.T) {
	system, turns := splitSystem([]ChatMessage{
		{Role: RoleSystem, Content: "be kind"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	})

	assert.Equal(t, []string{"be kind"}, system)
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, RoleAssistant, turns[1].Role)
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	_, err := NewClient(ProviderOpenAI, "")
	assert.Error(t, err)

	_, err = NewClient(ProviderAnthropic, "")
	assert.Error(t, err)
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := NewClient(Provider("bogus"), "key")
	assert.ErrorContains(t, err, "bogus")
}

func TestNewClient_OpenAI(t *testing.T) {
	c, err := NewClient(ProviderOpenAI, "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())
}
