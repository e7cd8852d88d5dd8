package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseName(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		name      string
		input     string
		want      NameValue
		wantErr   bool
		looksLike string
	}{
		{name: "full name with lead-in", input: "My name is John Smith", want: NameValue{First: "John", Last: "Smith", Full: "John Smith"}},
		{name: "contraction lead-in", input: "It's maria lopez.", want: NameValue{First: "Maria", Last: "Lopez", Full: "Maria Lopez"}},
		{name: "middle name", input: "this is Ana Maria Diaz", want: NameValue{First: "Ana", Last: "Diaz", Full: "Ana Maria Diaz"}},
		{name: "single word is partial", input: "Maria", want: NameValue{First: "Maria", Partial: "Maria"}},
		{name: "street address", input: "123 Main Street", wantErr: true, looksLike: SlotAddress},
		{name: "time words", input: "tomorrow morning", wantErr: true, looksLike: SlotTime},
		{name: "filler only", input: "um yes", wantErr: true},
		{name: "sentence", input: "I am not really sure what you mean", wantErr: true},
		{name: "common first name", input: "Will Smith", want: NameValue{First: "Will", Last: "Smith", Full: "Will Smith"}},
		{name: "month first name", input: "it's May Johnson", want: NameValue{First: "May", Last: "Johnson", Full: "May Johnson"}},
		{name: "common last name", input: "Mark Day", want: NameValue{First: "Mark", Last: "Day", Full: "Mark Day"}},
		{name: "adjective last name", input: "Grace Good", want: NameValue{First: "Grace", Last: "Good", Full: "Grace Good"}},
		{name: "only common words", input: "will do", wantErr: true},
		{name: "hedge", input: "not sure", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Parse(SlotName, tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.looksLike, verr.LooksLike)
				assert.Equal(t, Slots{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestParsePhone(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		name      string
		input     string
		want      string
		looksLike string
	}{
		{name: "dashed", input: "555-123-4567", want: "5551234567"},
		{name: "country code", input: "+1 (555) 123 4567", want: "5551234567"},
		{name: "spoken digits", input: "five five five, one two three, four five six seven", want: "5551234567"},
		{name: "spoken with double", input: "my number is five five five one two three double four six seven", want: "5551234467"},
		{name: "too short", input: "555 1234"},
		{name: "bad area code", input: "055 123 4567"},
		{name: "address", input: "12155 Metro Parkway", looksLike: SlotAddress},
		{name: "time", input: "tomorrow at 3pm", looksLike: SlotTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Parse(SlotPhone, tt.input)
			if tt.want == "" {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.looksLike, verr.LooksLike)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Phone)
		})
	}
}

func TestParseAddress(t *testing.T) {
	v := NewValidator()

	got, err := v.Parse(SlotAddress, "I live at 42 Elm St, Apt 3B, Springfield")
	require.NoError(t, err)
	assert.Equal(t, AddressValue{Full: "42 Elm St, Apt 3B, Springfield", Street: "42 Elm St", City: "Springfield", Unit: "3B"}, got.Address)

	got, err = v.Parse(SlotAddress, "it's 12155 Metro Parkway, please.")
	require.NoError(t, err)
	assert.Equal(t, "12155 Metro Parkway", got.Address.Full)
	assert.Empty(t, got.Address.Unit)

	got, err = v.Parse(SlotAddress, "I'm at 500 Oak Avenue, Fort Myers")
	require.NoError(t, err)
	assert.Equal(t, "500 Oak Avenue", got.Address.Street)
	assert.Equal(t, "Fort Myers", got.Address.City)

	for input, looksLike := range map[string]string{
		"next tuesday at 10 am": SlotTime,
		"10 am tomorrow":        SlotTime,
		"as early as possible":  SlotTime,
		"Maria Lopez":           SlotName,
		"555 123 4567":          SlotPhone,
	} {
		_, err := v.Parse(SlotAddress, input)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, input)
		assert.Equal(t, looksLike, verr.LooksLike, input)
	}
}

func TestParseTime(t *testing.T) {
	v := NewValidator()
	tests := []struct {
		input      string
		preference string
		window     string
	}{
		{"as early as possible", "ASAP", "anytime"},
		{"ASAP please", "ASAP", "anytime"},
		{"whenever works", "anytime", "anytime"},
		{"tomorrow morning", "tomorrow morning", "morning"},
		{"how about tuesday at 2:30 pm", "tuesday at 2 30 pm", "afternoon"},
		{"Friday, maybe around 6 pm", "friday maybe around 6 pm", "evening"},
		{"10 in the morning", "10 in the morning", "morning"},
		{"the 15th", "the 15th", "anytime"},
		{"2 to 4", "2 to 4", "afternoon"},
		{"from 9 until 11", "from 9 until 11", "morning"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := v.Parse(SlotTime, tt.input)
			require.NoError(t, err)
			assert.Equal(t, TimeValue{Preference: tt.preference, Window: tt.window}, got.Time)
		})
	}
}

func TestParseTimeRejectsOtherSlotTypes(t *testing.T) {
	v := NewValidator()

	_, err := v.Parse(SlotTime, "12155 Metro Parkway")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.TypeMismatch())
	assert.Equal(t, SlotAddress, verr.LooksLike)

	_, err = v.Parse(SlotTime, "call me at 555 123 4567")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, SlotPhone, verr.LooksLike)

	_, err = v.Parse(SlotAddress, "2 to 4")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, SlotTime, verr.LooksLike)

	_, err = v.Parse(SlotTime, "hmm let me think")
	require.ErrorAs(t, err, &verr)
	assert.False(t, verr.TypeMismatch())
}

func TestCheckRevalidatesStoredValues(t *testing.T) {
	v := NewValidator()
	s := Slots{
		Name:    NameValue{First: "Maria", Last: "Lopez", Full: "Maria Lopez"},
		Phone:   "5551234567",
		Address: AddressValue{Full: "12155 Metro Parkway"},
		Time:    TimeValue{Preference: "ASAP"},
	}
	for _, slot := range slotOrder {
		assert.NoError(t, v.Check(slot, s), slot)
	}

	s.Time.Preference = "12155 Metro Parkway"
	assert.Error(t, v.Check(SlotTime, s))
	assert.Error(t, v.Check(SlotPhone, Slots{}))
}

func TestPhoneHelpers(t *testing.T) {
	digits, stray := ExtractDigits("oh five five, triple two, one hundred")
	assert.Equal(t, "055222100", digits)
	assert.Zero(t, stray)

	_, stray = ExtractDigits("I don't have one handy")
	assert.Equal(t, 4, stray)

	assert.Equal(t, "5551234567", NormalizePhone("1-555-123-4567"))
	assert.Empty(t, NormalizePhone("12345"))
	assert.Equal(t, "555-123-4567", FormatPhone("5551234567"))
	assert.Equal(t, "12345", FormatPhone("12345"))
}

func TestIsBookingRequest(t *testing.T) {
	tests := []struct {
		utterance string
		want      bool
	}{
		{"Can you send someone out tomorrow?", true},
		{"I'd like to schedule an appointment", true},
		{"Can you book me an appointment?", true},
		{"My AC is not cooling, can you send a technician?", true},
		{"I need someone to come out today", true},
		{"Please book me for Thursday", true},
		{"Could I get a service call set up?", true},
		{"How much does it cost to get a technician out?", false},
		{"how much is a service call", false},
		{"Do you make service calls on weekends?", false},
		{"Does someone come out on Sundays?", false},
		{"I don't know if I want to book an appointment yet", false},
		{"I'm not sure I want to schedule a visit", false},
		{"I don't want to book an appointment yet", false},
		{"What time does your technician get here usually?", false},
		{"I was told you'd send someone last week", false},
		{"what's your price to schedule a tech", false},
	}
	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBookingRequest(tt.utterance))
		})
	}
}

func TestReplyClassifiers(t *testing.T) {
	assert.True(t, IsAffirmative("yes"))
	assert.True(t, IsAffirmative("Yeah, that's right."))
	assert.True(t, IsAffirmative("sounds good"))
	assert.False(t, IsAffirmative("yes but the number is wrong"))
	assert.False(t, IsAffirmative("tuesday"))

	assert.True(t, IsNegative("no, the phone number is wrong"))
	assert.False(t, IsNegative("that works"))


	assert.Equal(t, SlotPhone, MentionedSlot("no, the phone number is wrong"))
	assert.Equal(t, SlotAddress, MentionedSlot("the address is off"))
	assert.Equal(t, SlotName, MentionedSlot("you spelled my name wrong"))
	assert.Empty(t, MentionedSlot("no"))
}
