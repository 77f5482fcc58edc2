package providers

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a model handle from its configuration.
type Factory func(name, apiKey, apiBase, defaultModel string) Model

// The registry maps configuration class tags to factories at compile time.
// Unknown tags are rejected at startup, not at call time.
var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"openai": func(name, apiKey, apiBase, defaultModel string) Model {
			return NewOpenAIModel(name, apiKey, apiBase, defaultModel)
		},
		// "vllm" and "ollama" speak the OpenAI wire format on a local base URL.
		"vllm": func(name, apiKey, apiBase, defaultModel string) Model {
			return NewOpenAIModel(name, apiKey, apiBase, defaultModel)
		},
		"ollama": func(name, apiKey, apiBase, defaultModel string) Model {
			return NewOpenAIModel(name, apiKey, apiBase, defaultModel)
		},
	}
)

// Register adds a factory under a class tag. Used by tests to install fakes.
func Register(class string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[class] = f
}

// New constructs a model handle for a class tag.
func New(class, name, apiKey, apiBase, defaultModel string) (Model, error) {
	registryMu.RLock()
	f, ok := registry[class]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model class %q (known: %v)", class, Classes())
	}
	return f(name, apiKey, apiBase, defaultModel), nil
}

// Classes lists the registered class tags.
func Classes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	classes := make([]string, 0, len(registry))
	for c := range registry {
		classes = append(classes, c)
	}
	sort.Strings(classes)
	return classes
}
