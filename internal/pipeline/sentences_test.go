package pipeline

import (
	"reflect"
	"testing"
)

func TestSplitSentences_ExtractsCompletedSentences(t *testing.T) {
	done, rest := splitSentences("Hello there. How are you? I am fine", 120)
	if !reflect.DeepEqual(done, []string{"Hello there.", "How are you?"}) {
		t.Errorf("done = %v", done)
	}
	if rest != "I am fine" {
		t.Errorf("rest = %q", rest)
	}
}

func TestSplitSentences_NoTerminatorLeavesEverythingAsRest(t *testing.T) {
	done, rest := splitSentences("still thinking", 120)
	if len(done) != 0 {
		t.Errorf("expected no completed sentences, got %v", done)
	}
	if rest != "still thinking" {
		t.Errorf("rest = %q", rest)
	}
}

func TestSplitSentences_ForceCutsOversizeRunOn(t *testing.T) {
	longRunOn := ""
	for i := 0; i < 30; i++ {
		longRunOn += "abcd "
	}
	done, rest := splitSentences(longRunOn, 20)
	if len(done) == 0 {
		t.Fatal("expected at least one forced cut")
	}
	for _, s := range done {
		if len(s) > 20 {
			t.Errorf("forced cut exceeded maxChars: %q", s)
		}
	}
	if len(rest) > 20 {
		t.Errorf("remaining rest should also be within maxChars after forcing: %q", rest)
	}
}

func TestSplitSentences_SemicolonAndExclamationAreTerminators(t *testing.T) {
	done, rest := splitSentences("Wait; stop! Go", 120)
	if !reflect.DeepEqual(done, []string{"Wait;", "stop!"}) {
		t.Errorf("done = %v", done)
	}
	if rest != "Go" {
		t.Errorf("rest = %q", rest)
	}
}

func TestSplitSentences_EmptyBufferProducesNothing(t *testing.T) {
	done, rest := splitSentences("", 120)
	if len(done) != 0 || rest != "" {
		t.Errorf("expected empty result, got done=%v rest=%q", done, rest)
	}
}
