package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"memochat/pkg/store"
	"memochat/pkg/vector"
)

func newInvokeApp(t *testing.T, primary, fallback *scriptedModel) *App {
	t.Helper()
	cfg := Config{
		Store:          store.NewMemoryStore(),
		Vector:         vector.NewMemoryStore(hashEmbedder{}),
		Primary:        primary,
		RetryBaseDelay: time.Millisecond,
	}
	if fallback != nil {
		cfg.Fallback = fallback
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestInvokeModelPrimarySucceedsFirstTry(t *testing.T) {
	primary := &scriptedModel{name: "primary", replies: []string{"answer"}}
	a := newInvokeApp(t, primary, nil)

	result, err := a.invokeModel(context.Background(), "system", nil, "question", nil)
	if err != nil {
		t.Fatalf("invokeModel: %v", err)
	}
	if result.text != "answer" || result.usedFallback {
		t.Fatalf("unexpected result %+v", result)
	}
	if primary.invocations() != 1 {
		t.Fatalf("expected 1 invocation, got %d", primary.invocations())
	}
}

func TestInvokeModelRetriesEmptyReply(t *testing.T) {
	primary := &scriptedModel{name: "primary", replies: []string{"", "  ", "finally"}}
	a := newInvokeApp(t, primary, nil)

	result, err := a.invokeModel(context.Background(), "system", nil, "question", nil)
	if err != nil {
		t.Fatalf("invokeModel: %v", err)
	}
	if result.text != "finally" {
		t.Fatalf("unexpected reply %q", result.text)
	}
	if primary.invocations() != 3 {
		t.Fatalf("expected 3 invocations, got %d", primary.invocations())
	}
}

func TestInvokeModelFallbackAfterPrimaryExhausted(t *testing.T) {
	primary := &scriptedModel{
		name: "primary",
		errs: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")},
	}
	fallback := &scriptedModel{name: "fallback", replies: []string{"rescued"}}
	a := newInvokeApp(t, primary, fallback)

	result, err := a.invokeModel(context.Background(), "system", nil, "question", nil)
	if err != nil {
		t.Fatalf("invokeModel: %v", err)
	}
	if result.text != "rescued" || !result.usedFallback {
		t.Fatalf("unexpected result %+v", result)
	}
	if primary.invocations() != 3 {
		t.Fatalf("primary should exhaust its attempts, got %d", primary.invocations())
	}
	if fallback.invocations() != 1 {
		t.Fatalf("fallback should answer on its first attempt, got %d", fallback.invocations())
	}
}

func TestInvokeModelFastFailoverOnServerError(t *testing.T) {
	primary := &scriptedModel{
		name: "primary",
		errs: []error{errors.New("status 503 service unavailable")},
	}
	fallback := &scriptedModel{name: "fallback", replies: []string{"rescued"}}
	a := newInvokeApp(t, primary, fallback)

	result, err := a.invokeModel(context.Background(), "system", nil, "question", nil)
	if err != nil {
		t.Fatalf("invokeModel: %v", err)
	}
	if !result.usedFallback {
		t.Fatal("expected fallback result")
	}
	if primary.invocations() != 1 {
		t.Fatalf("server failure should skip remaining primary attempts, got %d", primary.invocations())
	}
}

func TestInvokeModelExhaustedNamesBothModels(t *testing.T) {
	primary := &scriptedModel{
		name: "model-a",
		errs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}
	fallback := &scriptedModel{
		name: "model-b",
		errs: []error{errors.New("also down"), errors.New("also down"), errors.New("also down")},
	}
	a := newInvokeApp(t, primary, fallback)

	_, err := a.invokeModel(context.Background(), "system", nil, "question", nil)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "model-a") || !strings.Contains(msg, "model-b") {
		t.Fatalf("error must name both models: %q", msg)
	}
	if !strings.Contains(msg, "3 attempts") {
		t.Fatalf("error must report the attempt count: %q", msg)
	}
	if !errors.Is(err, errors.Unwrap(err)) {
		t.Fatalf("exhaustion error must wrap the last failure: %q", msg)
	}
}

func TestInvokeModelEmptyRepliesFailOverToFallback(t *testing.T) {
	primary := &scriptedModel{name: "primary", replies: []string{"", "", ""}}
	fallback := &scriptedModel{name: "fallback", replies: []string{"rescued"}}
	a := newInvokeApp(t, primary, fallback)

	result, err := a.invokeModel(context.Background(), "system", nil, "question", nil)
	if err != nil {
		t.Fatalf("invokeModel: %v", err)
	}
	if result.text != "rescued" || !result.usedFallback {
		t.Fatalf("unexpected result %+v", result)
	}
	if primary.invocations() != 3 {
		t.Fatalf("primary should exhaust its attempts on empty replies, got %d", primary.invocations())
	}
	if fallback.invocations() != 1 {
		t.Fatalf("fallback should answer on its first attempt, got %d", fallback.invocations())
	}
}

func TestInvokeModelEmptyRepliesExhaustToEmptyResponseError(t *testing.T) {
	primary := &scriptedModel{name: "primary", replies: []string{"", "", ""}}
	a := newInvokeApp(t, primary, nil)

	_, err := a.invokeModel(context.Background(), "system", nil, "question", nil)
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestInvokeModelHonorsCancellation(t *testing.T) {
	primary := &scriptedModel{
		name: "primary",
		errs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}
	a := newInvokeApp(t, primary, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.invokeModel(ctx, "system", nil, "question", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if primary.invocations() > 1 {
		t.Fatalf("canceled context should stop retries, got %d invocations", primary.invocations())
	}
}
