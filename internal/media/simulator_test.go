package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulator_SayEmitsPartialFinalRecognitionComplete(t *testing.T) {
	s := NewSimulator()
	ctx := context.Background()
	s.Say(ctx, "I want to file a claim")

	var kinds []Kind
	for i := 0; i < 3; i++ {
		kinds = append(kinds, (<-s.Events()).Kind)
	}
	assert.Equal(t, []Kind{KindPartial, KindFinal, KindRecognitionComplete}, kinds)
}

func TestSimulator_SynthesizeRecordsTranscript(t *testing.T) {
	s := NewSimulator()
	ctx := context.Background()

	_, err := s.Synthesize(ctx, SynthesizeRequest{Text: "Bonjour", Language: "fr-FR"})
	require.NoError(t, err)

	transcript := s.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, "Bonjour", transcript[0].Text)
	assert.False(t, transcript[0].Cancelled)
}

func TestSimulator_CancelMarksLineCancelled(t *testing.T) {
	s := NewSimulator()
	ctx := context.Background()

	handle, err := s.Synthesize(ctx, SynthesizeRequest{Text: "En train de parler"})
	require.NoError(t, err)
	require.NoError(t, s.Cancel(ctx, handle))

	transcript := s.Transcript()
	require.Len(t, transcript, 1)
	assert.True(t, transcript[0].Cancelled)
}

func TestSimulator_PlayThinkingToneTracksActiveTones(t *testing.T) {
	s := NewSimulator()
	ctx := context.Background()

	handle, err := s.PlayThinkingTone(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"thinking"}, s.ActiveTones())

	require.NoError(t, s.Cancel(ctx, handle))
	assert.Empty(t, s.ActiveTones())
}

func TestSimulator_BargeInCancelsBothToneAndSpeech(t *testing.T) {
	s := NewSimulator()
	ctx := context.Background()

	toneHandle, err := s.PlayNoiseFloor(ctx)
	require.NoError(t, err)
	speechHandle, err := s.Synthesize(ctx, SynthesizeRequest{Text: "still speaking"})
	require.NoError(t, err)

	s.SayPartial(ctx, "Attendez")
	<-s.Events() // drain the barge-in partial

	require.NoError(t, s.Cancel(ctx, toneHandle))
	require.NoError(t, s.Cancel(ctx, speechHandle))

	assert.Empty(t, s.ActiveTones())
	assert.True(t, s.Transcript()[0].Cancelled)
}

func TestSimulator_SynthesizeAfterCloseFails(t *testing.T) {
	s := NewSimulator()
	require.NoError(t, s.Close())

	_, err := s.Synthesize(context.Background(), SynthesizeRequest{Text: "too late"})
	assert.Error(t, err)
}

func TestSimulator_CloseClosesEventsChannel(t *testing.T) {
	s := NewSimulator()
	require.NoError(t, s.Close())

	_, open := <-s.Events()
	assert.False(t, open)
}
