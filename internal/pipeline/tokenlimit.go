package pipeline

import (
	"log/slog"
	"unicode/utf8"

	"github.com/docsage/docsage/internal/config"
	"github.com/docsage/docsage/internal/providers"
)

// WarnInputTooLarge is the code attached to the warning returned when an
// unprunable input alone exceeds the budget. The caller skips the model call.
const WarnInputTooLarge = "INPUT_SIZE_WARNING"

// PruneWarning reports a non-fatal budgeting outcome.
type PruneWarning struct {
	Code    string
	Message string
}

// PruneInput is everything assembled into a prompt, in prunable groups.
type PruneInput struct {
	Question  string
	History   []string            // oldest first
	Documents [][]string          // one list per retrieval arm
	Extras    map[string]string   // truncated last
}

// TokenLimiter prunes prompt inputs to fit a model budget. The order is
// fixed: oversized history first, then oldest history, then documents
// round-robin, then extras truncation. The question is never pruned.
type TokenLimiter struct {
	counter  providers.Model // token counting delegate, may be nil
	max      int
	reserved int
	scaffold int
	minHist  int
	minDocs  int
}

func NewTokenLimiter(budget config.TokenBudget, scaffoldTokens int, counter providers.Model) *TokenLimiter {
	minHist := budget.MinHistoryMessages
	if minHist <= 0 {
		minHist = 2
	}
	return &TokenLimiter{
		counter:  counter,
		max:      budget.MaxTokens,
		reserved: budget.Reserved,
		scaffold: scaffoldTokens,
		minHist:  minHist,
		minDocs:  budget.MinDocs,
	}
}

func (l *TokenLimiter) effectiveMax() int {
	return l.max - l.reserved - l.scaffold
}

func (l *TokenLimiter) count(text string) int {
	if l.counter != nil {
		if n, err := l.counter.CountTokens(text); err == nil {
			return n
		}
	}
	return providers.ApproxTokens(text)
}

func (l *TokenLimiter) total(in PruneInput) int {
	n := l.count(in.Question)
	for _, h := range in.History {
		n += l.count(h)
	}
	for _, docs := range in.Documents {
		for _, d := range docs {
			n += l.count(d)
		}
	}
	for _, v := range in.Extras {
		n += l.count(v)
	}
	return n
}

// Prune reduces the input to the budget. A returned warning with code
// WarnInputTooLarge means even the unprunable parts do not fit and the
// model call must be skipped.
func (l *TokenLimiter) Prune(in PruneInput) (PruneInput, *PruneWarning) {
	budget := l.effectiveMax()
	if budget <= 0 || l.count(in.Question) > budget {
		return in, &PruneWarning{
			Code:    WarnInputTooLarge,
			Message: "question alone exceeds the prompt token budget",
		}
	}
	if l.total(in) <= budget {
		return in, nil
	}

	// 1. Drop history messages that are individually oversized.
	threshold := budget / 2
	kept := in.History[:0:0]
	dropped := 0
	for _, h := range in.History {
		if l.count(h) > threshold {
			dropped++
			continue
		}
		kept = append(kept, h)
	}
	in.History = kept
	if dropped > 0 {
		slog.Debug("pruned oversized history messages", "dropped", dropped, "threshold", threshold)
	}

	// 2. Drop oldest history down to the floor.
	for l.total(in) > budget && len(in.History) > l.minHist {
		in.History = in.History[1:]
	}

	// 3. Trim documents round-robin, last element of each list first.
	for l.total(in) > budget {
		trimmed := false
		for i := range in.Documents {
			if len(in.Documents[i]) > l.minDocs {
				in.Documents[i] = in.Documents[i][:len(in.Documents[i])-1]
				trimmed = true
				if l.total(in) <= budget {
					break
				}
			}
		}
		if !trimmed {
			break
		}
	}

	// 4. Truncate extras last, on a copy so the caller's map is untouched.
	var truncated map[string]string
	for key, v := range in.Extras {
		over := l.total(in) - budget
		if over <= 0 {
			break
		}
		tokens := l.count(v)
		if tokens == 0 {
			continue
		}
		keep := tokens - over
		if keep < 0 {
			keep = 0
		}
		// Approximate the cut point in bytes from the token ratio, backing
		// off to a rune boundary.
		cut := len(v) * keep / tokens
		for cut > 0 && !utf8.RuneStart(v[cut]) {
			cut--
		}
		if truncated == nil {
			truncated = make(map[string]string, len(in.Extras))
			for k, orig := range in.Extras {
				truncated[k] = orig
			}
			in.Extras = truncated
		}
		in.Extras[key] = v[:cut]
	}

	return in, nil
}
