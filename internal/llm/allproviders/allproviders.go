// Package allproviders registers all built-in LLM providers.
// Import for side effects:
//
//	import _ "github.com/baobabted/AI-Coding-Tutor/internal/llm/allproviders"
package allproviders

import (
	_ "github.com/baobabted/AI-Coding-Tutor/internal/llm/providers/anthropic"
	_ "github.com/baobabted/AI-Coding-Tutor/internal/llm/providers/gemini"
	_ "github.com/baobabted/AI-Coding-Tutor/internal/llm/providers/openai"
)
