package triage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(logging.Discard())
	cfg := DefaultConfig()
	cfg.Cards = []Card{{ID: "card_gas", Terms: []string{"gas"}}}

	tests := []struct {
		name      string
		utterance string
		intent    Intent
		urgency   Urgency
		symptom   string
		tone      Tone
	}{
		{"ac not cooling", "My AC is not cooling and it's 92 degrees in here", IntentServiceRequest, UrgencyUrgent, "92 degrees", ToneReassuringCalm},
		{"plain repair", "The furnace isn't working", IntentServiceRequest, UrgencyNormal, "isnt working", ToneFriendlyDirect},
		{"gas smell", "I smell gas near the furnace", IntentServiceRequest, UrgencyEmergency, "smell gas", ToneEmergencySerious},
		{"pricing", "How much is a tune-up?", IntentPricing, UrgencyNormal, "", ToneFriendlyDirect},
		{"complaint", "Your tech came out and didn't fix it, I'm really frustrated", IntentComplaint, UrgencyNormal, "", ToneConflictSerious},
		{"other", "What are your hours on Saturday", IntentOther, UrgencyNormal, "", ToneNeutralEfficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(context.Background(), tt.utterance, cfg)
			require.NotNil(t, res)
			assert.Equal(t, tt.intent, res.IntentGuess)
			assert.Equal(t, tt.urgency, res.Urgency)
			assert.Equal(t, tt.tone, res.Tone)
			if tt.symptom != "" {
				assert.Contains(t, res.Symptoms, tt.symptom)
			}
		})
	}
}

func TestClassifyDisabledReturnsNil(t *testing.T) {
	c := NewClassifier(nil)
	assert.Nil(t, c.Classify(context.Background(), "my ac is not cooling", Config{}))
}

func TestClassifyMatchesCard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cards = []Card{{ID: "card_water_heater", Terms: []string{"water heater"}}}
	res := NewClassifier(logging.Discard()).Classify(context.Background(), "my water heater is leaking", cfg)
	require.NotNil(t, res)
	assert.Equal(t, "card_water_heater", res.MatchedCardID)
	assert.Contains(t, res.Symptoms, "leak")
}

func TestClassifyCold(t *testing.T) {
	res := NewClassifier(logging.Discard()).Classify(context.Background(), "the heater quit and it's 50 degrees", DefaultConfig())
	require.NotNil(t, res)
	assert.Equal(t, UrgencyUrgent, res.Urgency)
}

func TestSelectToneNil(t *testing.T) {
	assert.Equal(t, ToneNeutralEfficient, SelectTone(nil))
}
