package cmd

import (
	"cmp"
	"os"

	"github.com/spf13/viper"

	"github.com/joescharf/chronicle/internal/llm"
)

// newLLMClient returns a recap client, or nil when no API key is available.
// anthropic.api_key takes precedence over ANTHROPIC_API_KEY.
func newLLMClient() *llm.Client {
	key := cmp.Or(viper.GetString("anthropic.api_key"), os.Getenv("ANTHROPIC_API_KEY"))
	if key == "" {
		return nil
	}
	return llm.NewClient(key, viper.GetString("anthropic.model"))
}
