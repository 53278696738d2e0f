// Package transfer decides, from the finished text of a model reply, whether
// the call should be handed to a human or ended.
//
// The default PhrasePolicy is a substring heuristic over the model's own
// words. It will occasionally transfer when the model only mentions
// transferring, and will miss handoffs phrased in ways not listed. Both
// failure modes are accepted; the voice prompt instructs the model to use a
// fixed handoff sentence to keep them rare.
package transfer

import "strings"

// DefaultPhrases trigger a transfer when they appear anywhere in a reply.
var DefaultPhrases = []string{
	"let me connect you",
	"let me transfer you",
	"transfer you now",
	"connecting you now",
	"i'll connect you",
	"i will connect you",
	"i'll transfer you",
	"i will transfer you",
	"transferring you",
	"connecting you to",
}

// Decision is the outcome for one completed or errored turn.
type Decision struct {
	Transfer bool
	Number   string
	// Phrase is the matched phrase, for logs.
	Phrase  string
	EndCall bool
}

// Policy maps finished reply text to a Decision.
type Policy interface {
	Decide(text string) Decision
}

// PhrasePolicy matches replies case-insensitively against phrase lists.
type PhrasePolicy struct {
	number          string
	transferPhrases []string
	endCallPhrases  []string
}

// NewPhrasePolicy returns a policy that transfers to number. A nil
// transferPhrases selects DefaultPhrases; an empty number disables transfer.
func NewPhrasePolicy(number string, transferPhrases, endCallPhrases []string) *PhrasePolicy {
	if transferPhrases == nil {
		transferPhrases = DefaultPhrases
	}
	return &PhrasePolicy{
		number:          strings.TrimSpace(number),
		transferPhrases: lowerAll(transferPhrases),
		endCallPhrases:  lowerAll(endCallPhrases),
	}
}

// Number returns the configured transfer target.
func (p *PhrasePolicy) Number() string {
	return p.number
}

// WithNumber returns a copy of p that transfers to number instead.
func (p *PhrasePolicy) WithNumber(number string) *PhrasePolicy {
	cp := *p
	cp.number = strings.TrimSpace(number)
	return &cp
}

func (p *PhrasePolicy) Decide(text string) Decision {
	var d Decision
	if text == "" {
		return d
	}
	lower := normalizeApostrophes(strings.ToLower(text))

	if p.number != "" {
		for _, phrase := range p.transferPhrases {
			if strings.Contains(lower, phrase) {
				d.Transfer = true
				d.Number = p.number
				d.Phrase = phrase
				break
			}
		}
	}
	if !d.Transfer {
		for _, phrase := range p.endCallPhrases {
			if strings.Contains(lower, phrase) {
				d.EndCall = true
				d.Phrase = phrase
				break
			}
		}
	}
	return d
}

// Forced is the decision for a turn whose upstream call failed.
func Forced(number string) Decision {
	number = strings.TrimSpace(number)
	return Decision{Transfer: number != "", Number: number}
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = normalizeApostrophes(strings.ToLower(strings.TrimSpace(s)))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// normalizeApostrophes folds typographic apostrophes so "I’ll" matches "i'll".
func normalizeApostrophes(s string) string {
	return strings.NewReplacer("’", "'", "‘", "'").Replace(s)
}
