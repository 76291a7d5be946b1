package pricing

// defaultPrices is the built-in wholesale price table, USD per million
// units. Text providers meter tokens; TTS providers meter characters and
// carry no output price. Deployments override entries via configuration.
var defaultPrices = map[string]map[string]ModelPrice{
	"openai": {
		"gpt-4o-mini":  {InputPerMillion: 0.15, OutputPerMillion: 0.60},
		"gpt-4o":       {InputPerMillion: 2.50, OutputPerMillion: 10.00},
		"gpt-4.1":      {InputPerMillion: 2.00, OutputPerMillion: 8.00},
		"gpt-4.1-mini": {InputPerMillion: 0.40, OutputPerMillion: 1.60},
		"o4-mini":      {InputPerMillion: 1.10, OutputPerMillion: 4.40},
	},
	"anthropic": {
		"claude-3-5-haiku": {InputPerMillion: 0.80, OutputPerMillion: 4.00},
		"claude-sonnet-4":  {InputPerMillion: 3.00, OutputPerMillion: 15.00},
		"claude-opus-4":    {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	},
	"google": {
		"gemini-2.0-flash": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
		"gemini-2.5-pro":   {InputPerMillion: 1.25, OutputPerMillion: 10.00},
	},
	"elevenlabs": {
		"eleven_multilingual_v2": {InputPerMillion: 180.00},
		"eleven_turbo_v2_5":      {InputPerMillion: 90.00},
	},
	"openai-tts": {
		"tts-1":    {InputPerMillion: 15.00},
		"tts-1-hd": {InputPerMillion: 30.00},
	},
}
