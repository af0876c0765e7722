package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/subject"
)

type fakeCompleter struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, system)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return `{"results":[]}`, nil
}

func (f *fakeCompleter) Model() string { return "fake-model" }

func stageMatcher(t *testing.T) *subject.Matcher {
	t.Helper()
	m, err := subject.New(subject.Config{
		Name:  "John Gaskell",
		Email: "john@freightlink.co.uk",
	})
	if err != nil {
		t.Fatalf("subject.New() error = %v", err)
	}
	return m
}

func TestRedactBatch_AppliesDetections(t *testing.T) {
	fake := &fakeCompleter{responses: []string{
		`{"results":[{"messageId":"1","items":[{"text":"Sarah Smith","type":"name"}]}]}`,
	}}
	r := NewRedactor(fake, stageMatcher(t), Options{
		Stages:     []Stage{StageNames},
		RetryDelay: time.Millisecond,
	}, nil)

	msgs := []model.Message{{
		ID:      "1",
		Subject: "Note from Sarah Smith",
		Body:    "Sarah Smith will confirm the slot. sarah smith signed off.",
	}}

	out, items := r.RedactBatch(context.Background(), msgs)

	if strings.Contains(out[0].Subject, "Sarah") || strings.Contains(out[0].Body, "Sarah") {
		t.Errorf("detection not applied: subject=%q body=%q", out[0].Subject, out[0].Body)
	}
	// Case-insensitive whole-match: one hit in the subject, two in the body.
	if len(items["1"]) != 3 {
		t.Fatalf("expected 3 items, got %d: %v", len(items["1"]), items["1"])
	}
	for _, item := range items["1"] {
		if item.Source != model.SourceAI || item.Type != model.TypeName {
			t.Errorf("unexpected item: %+v", item)
		}
	}
}

func TestRedactBatch_FiltersProtectedAndNoise(t *testing.T) {
	fake := &fakeCompleter{responses: []string{
		`{"results":[{"messageId":"1","items":[
			{"text":"John Gaskell","type":"name"},
			{"text":"Regards","type":"name"},
			{"text":"[REDACTED]","type":"name"},
			{"text":"X","type":"name"}
		]}]}`,
	}}
	r := NewRedactor(fake, stageMatcher(t), Options{
		Stages:     []Stage{StageNames},
		RetryDelay: time.Millisecond,
	}, nil)

	body := "John Gaskell sent Regards via [REDACTED] X"
	out, items := r.RedactBatch(context.Background(), []model.Message{{ID: "1", Body: body}})

	if out[0].Body != body {
		t.Errorf("filtered detections were applied: %q", out[0].Body)
	}
	if len(items["1"]) != 0 {
		t.Errorf("expected no items, got %v", items["1"])
	}
}

func TestRedactBatch_LongestFirst(t *testing.T) {
	fake := &fakeCompleter{responses: []string{
		`{"results":[{"messageId":"1","items":[
			{"text":"Smith","type":"name"},
			{"text":"Sarah Smith","type":"name"}
		]}]}`,
	}}
	r := NewRedactor(fake, stageMatcher(t), Options{
		Stages:     []Stage{StageNames},
		RetryDelay: time.Millisecond,
	}, nil)

	out, _ := r.RedactBatch(context.Background(), []model.Message{{
		ID:   "1",
		Body: "Sarah Smith called.",
	}})

	want := "[REDACTED] called."
	if out[0].Body != want {
		t.Errorf("got %q, want %q", out[0].Body, want)
	}
}

func TestRedactBatch_DegradesOnPersistentError(t *testing.T) {
	boom := errors.New("service unavailable")
	fake := &fakeCompleter{errs: []error{boom, boom, boom}}

	var degradedStage Stage
	var degradedMessages int
	r := NewRedactor(fake, stageMatcher(t), Options{
		Stages:     []Stage{StageNames},
		Retries:    2,
		RetryDelay: time.Millisecond,
		OnDegrade: func(stage Stage, messages int) {
			degradedStage = stage
			degradedMessages = messages
		},
	}, nil)

	msgs := []model.Message{{ID: "1", Body: "Sarah Smith called."}}
	out, items := r.RedactBatch(context.Background(), msgs)

	if fake.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", fake.calls)
	}
	if out[0].Body != msgs[0].Body {
		t.Errorf("degraded stage modified the message: %q", out[0].Body)
	}
	if len(items) != 0 {
		t.Errorf("degraded stage produced items: %v", items)
	}
	if degradedStage != StageNames || degradedMessages != 1 {
		t.Errorf("degrade callback got (%q, %d), want (%q, 1)", degradedStage, degradedMessages, StageNames)
	}
}

func TestRedactBatch_RecoversAfterRetry(t *testing.T) {
	fake := &fakeCompleter{
		errs: []error{errors.New("timeout"), nil},
		responses: []string{
			"", // consumed by the failed first attempt
			`{"results":[{"messageId":"1","items":[{"text":"Sarah Smith","type":"name"}]}]}`,
		},
	}
	r := NewRedactor(fake, stageMatcher(t), Options{
		Stages:     []Stage{StageNames},
		Retries:    2,
		RetryDelay: time.Millisecond,
	}, nil)

	out, _ := r.RedactBatch(context.Background(), []model.Message{{ID: "1", Body: "Sarah Smith called."}})
	if strings.Contains(out[0].Body, "Sarah") {
		t.Errorf("retry did not recover: %q", out[0].Body)
	}
}

func TestRedactBatch_UnparseableResponseTreatedAsEmpty(t *testing.T) {
	fake := &fakeCompleter{responses: []string{"no json here at all"}}

	degraded := 0
	r := NewRedactor(fake, stageMatcher(t), Options{
		Stages:     []Stage{StageNames},
		RetryDelay: time.Millisecond,
		OnDegrade:  func(Stage, int) { degraded++ },
	}, nil)

	msgs := []model.Message{{ID: "1", Body: "Sarah Smith called."}}
	out, items := r.RedactBatch(context.Background(), msgs)

	if out[0].Body != msgs[0].Body || len(items) != 0 {
		t.Errorf("unparseable response was not treated as empty: %q %v", out[0].Body, items)
	}
	if degraded != 1 {
		t.Errorf("degrade callback called %d times, want 1", degraded)
	}
}

func TestRedactBatch_UnknownMessageIDIgnored(t *testing.T) {
	fake := &fakeCompleter{responses: []string{
		`{"results":[{"messageId":"99","items":[{"text":"Sarah Smith","type":"name"}]}]}`,
	}}
	r := NewRedactor(fake, stageMatcher(t), Options{
		Stages:     []Stage{StageNames},
		RetryDelay: time.Millisecond,
	}, nil)

	msgs := []model.Message{{ID: "1", Body: "Sarah Smith called."}}
	out, items := r.RedactBatch(context.Background(), msgs)

	if out[0].Body != msgs[0].Body || len(items) != 0 {
		t.Errorf("hallucinated id was applied: %q %v", out[0].Body, items)
	}
}

func TestRedactBatch_RunsAllStages(t *testing.T) {
	fake := &fakeCompleter{}
	r := NewRedactor(fake, stageMatcher(t), Options{RetryDelay: time.Millisecond}, nil)

	r.RedactBatch(context.Background(), []model.Message{{ID: "1", Body: "hello"}})

	if fake.calls != len(AllStages) {
		t.Errorf("expected %d stage calls, got %d", len(AllStages), fake.calls)
	}
	joined := strings.Join(fake.prompts, "\n")
	for _, want := range []string{"person names", "company", "contact details"} {
		if !strings.Contains(joined, want) {
			t.Errorf("stage prompt missing %q", want)
		}
	}
}

func TestStagePrompt_NamesSubjectAndPlaceholder(t *testing.T) {
	p := stagePrompt(StageNames, stageMatcher(t), "[GONE]")
	for _, want := range []string{"John Gaskell", "john@freightlink.co.uk", "[GONE]"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestWholeMatchPattern(t *testing.T) {
	re, err := wholeMatchPattern("Sarah Smith")
	if err != nil {
		t.Fatalf("wholeMatchPattern() error = %v", err)
	}
	if !re.MatchString("met sarah smith today") {
		t.Error("case-insensitive match failed")
	}
	if re.MatchString("Sarah Smithson") {
		t.Error("partial word matched")
	}

	re, err = wholeMatchPattern("+44 20 7946 0958")
	if err != nil {
		t.Fatalf("wholeMatchPattern() error = %v", err)
	}
	if !re.MatchString("call +44 20 7946 0958 now") {
		t.Error("non-word-prefixed text failed to match")
	}
}
