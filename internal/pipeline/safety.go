package pipeline

import (
	"strings"

	"github.com/docsage/docsage/internal/config"
)

// Safety verdicts are tagged values, not errors: the executor checks the
// tag and short-circuits on Blocked rather than unwinding.
type SafetyVerdict struct {
	Blocked bool
	Reason  string
}

const defaultCannedMessage = "I can't help with that request."

// SafetyHook screens prompts and generated output against configured
// blocked terms. Disabled hooks pass everything.
type SafetyHook struct {
	cfg config.SafetyConfig
}

func NewSafetyHook(cfg config.SafetyConfig) *SafetyHook {
	return &SafetyHook{cfg: cfg}
}

func (h *SafetyHook) Enabled() bool { return h.cfg.Enabled }

// Check screens one text. Matching is case-insensitive substring over the
// configured term list.
func (h *SafetyHook) Check(text string) SafetyVerdict {
	if !h.cfg.Enabled {
		return SafetyVerdict{}
	}
	lower := strings.ToLower(text)
	for _, term := range h.cfg.BlockedTerms {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return SafetyVerdict{Blocked: true, Reason: "blocked term"}
		}
	}
	return SafetyVerdict{}
}

// CannedMessage is the safe response surfaced on a block.
func (h *SafetyHook) CannedMessage() string {
	if h.cfg.CannedMessage != "" {
		return h.cfg.CannedMessage
	}
	return defaultCannedMessage
}
