package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

type stubBackend struct{ id ModelID }

func (s stubBackend) ID() ModelID { return s.id }

func (s stubBackend) Generate(context.Context, Request) (Candidate, error) {
	return Candidate{ModelID: s.id}, nil
}

func (s stubBackend) HealthCheck(context.Context) error { return nil }

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(stubBackend{id: ModelTinyLlama}, stubBackend{id: ModelGPT})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	if !reflect.DeepEqual(reg.IDs(), []ModelID{ModelTinyLlama, ModelGPT}) {
		t.Fatalf("IDs() = %v", reg.IDs())
	}
	if _, err := reg.Get(ModelGPT); err != nil {
		t.Fatalf("Get(gpt) error = %v", err)
	}
	if _, err := reg.Get("llama9"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("Get(unknown) error = %v", err)
	}
	if err := reg.Register(stubBackend{id: ModelGPT}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	ids := reg.IDs()
	ids[0] = "mutated"
	if reg.IDs()[0] != ModelTinyLlama {
		t.Fatal("IDs() exposes internal slice")
	}
	if ParseModelID(" GPT ") != ModelGPT {
		t.Fatalf("ParseModelID() = %q", ParseModelID(" GPT "))
	}
}

func TestFailureKind(t *testing.T) {
	cases := map[string]error{
		"":                   nil,
		"BackendUnavailable": fmt.Errorf("%w: dial", ErrBackendUnavailable),
		"GenerationTimeout":  fmt.Errorf("%w: 60s", ErrGenerationTimeout),
		"UnknownModel":       ErrUnknownModel,
		"GenerationFailed":   errors.New("bad reply"),
	}
	for want, err := range cases {
		if got := FailureKind(err); got != want {
			t.Fatalf("FailureKind(%v) = %q, want %q", err, got, want)
		}
	}
}
