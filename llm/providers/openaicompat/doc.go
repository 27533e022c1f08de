// Package openaicompat provides the chat completions client for
// OpenAI-compatible endpoints (OpenAI, Azure OpenAI gateways, vLLM and others).
//
// It supports native function calling (including a forced tool_choice, used
// for routing decisions) and image inputs sent as data URLs.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-4o",
//	}, logger)
package openaicompat
