package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const number = "+19047704464"

func TestPhrasePolicy_DefaultPhrases(t *testing.T) {
	p := NewPhrasePolicy(number, nil, nil)

	for _, phrase := range DefaultPhrases {
		d := p.Decide("Sure thing. " + phrase + " with our membership team.")
		assert.True(t, d.Transfer, phrase)
		assert.Equal(t, number, d.Number)
		assert.Equal(t, phrase, d.Phrase)
		assert.False(t, d.EndCall)
	}
}

func TestPhrasePolicy_CaseAndApostrophes(t *testing.T) {
	p := NewPhrasePolicy(number, nil, nil)

	assert.True(t, p.Decide("LET ME TRANSFER YOU NOW.").Transfer)
	assert.True(t, p.Decide("One moment, I’ll connect you.").Transfer)
}

func TestPhrasePolicy_NoMatch(t *testing.T) {
	p := NewPhrasePolicy(number, nil, nil)

	d := p.Decide("We open thirty minutes after sunrise on weekends.")
	assert.Equal(t, Decision{}, d)
	assert.Equal(t, Decision{}, p.Decide(""))
}

func TestPhrasePolicy_NoNumberNeverTransfers(t *testing.T) {
	p := NewPhrasePolicy("  ", nil, nil)
	assert.False(t, p.Decide("Let me transfer you now.").Transfer)
}

func TestPhrasePolicy_EndCall(t *testing.T) {
	p := NewPhrasePolicy(number, nil, []string{"Have a great day on the water"})

	d := p.Decide("Thanks for calling! Have a great day on the water.")
	assert.True(t, d.EndCall)
	assert.False(t, d.Transfer)

	d = p.Decide("Let me transfer you now. Have a great day on the water.")
	assert.True(t, d.Transfer)
	assert.False(t, d.EndCall)
}

func TestPhrasePolicy_CustomPhrases(t *testing.T) {
	p := NewPhrasePolicy(number, []string{"handing you over"}, nil)

	assert.True(t, p.Decide("I am handing you over to Kim.").Transfer)
	assert.False(t, p.Decide("Let me transfer you now.").Transfer)
}

func TestPhrasePolicy_WithNumber(t *testing.T) {
	base := NewPhrasePolicy(number, nil, nil)
	override := base.WithNumber("+19045550199")

	assert.Equal(t, "+19045550199", override.Decide("transferring you").Number)
	assert.Equal(t, number, base.Number())
}

func TestForced(t *testing.T) {
	assert.Equal(t, Decision{Transfer: true, Number: number}, Forced(number))
	assert.Equal(t, Decision{}, Forced(""))
}
