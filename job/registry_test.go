package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/relaymill/conveyor/job"
)

type emailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got emailPayload
	def := job.NewDefinition("send-email", func(_ context.Context, p emailPayload) error {
		got = p
		return nil
	})

	job.RegisterDefinition(r, def)

	h, ok := r.Get("send-email")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(emailPayload{To: "alice@example.com", Subject: "Hello"})
	err := h(context.Background(), payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", got.To, "alice@example.com")
	}
	if got.Subject != "Hello" {
		t.Errorf("Subject = %q, want %q", got.Subject, "Hello")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Fatal("expected no handler for unregistered job")
	}
}

func TestRegistry_DecodeFailureIsDecodeError(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("typed", func(_ context.Context, _ emailPayload) error {
		t.Fatal("handler should not run on decode failure")
		return nil
	}))

	h, _ := r.Get("typed")
	err := h(context.Background(), []byte("{not json"))
	if err == nil {
		t.Fatal("expected decode error")
	}

	var decodeErr *job.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("error = %T, want *job.DecodeError", err)
	}
	if decodeErr.JobName != "typed" {
		t.Errorf("JobName = %q, want %q", decodeErr.JobName, "typed")
	}
	if decodeErr.Codec != "json" {
		t.Errorf("Codec = %q, want %q", decodeErr.Codec, "json")
	}
}

func TestRegistry_MsgpackCodec(t *testing.T) {
	r := job.NewRegistry()

	var got emailPayload
	job.RegisterDefinition(r, job.NewDefinition("packed", func(_ context.Context, p emailPayload) error {
		got = p
		return nil
	}, job.WithCodec(job.MsgpackCodec{})))

	payload, err := job.MsgpackCodec{}.Marshal(emailPayload{To: "bob@example.com"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	h, _ := r.Get("packed")
	if err := h(context.Background(), payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.To != "bob@example.com" {
		t.Errorf("To = %q, want %q", got.To, "bob@example.com")
	}
}

func TestRegistry_EmptyPayloadSkipsDecode(t *testing.T) {
	r := job.NewRegistry()

	ran := false
	job.RegisterDefinition(r, job.NewDefinition("bare", func(_ context.Context, _ struct{}) error {
		ran = true
		return nil
	}))

	h, _ := r.Get("bare")
	if err := h(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("expected handler to run")
	}
}

func TestRegistry_Bindings(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("resize", func(_ context.Context, _ struct{}) error { return nil },
		job.WithQueue("images"), job.WithMaxAttempts(5), job.WithTimeout(time.Minute)))
	job.RegisterDefinition(r, job.NewDefinition("thumbnail", func(_ context.Context, _ struct{}) error { return nil },
		job.WithQueue("images")))
	job.RegisterDefinition(r, job.NewDefinition("notify", func(_ context.Context, _ struct{}) error { return nil }))

	b, ok := r.Binding("resize")
	if !ok {
		t.Fatal("expected binding for registered job")
	}
	if b.Queue != "images" || b.MaxAttempts != 5 || b.Timeout != time.Minute {
		t.Errorf("binding = %+v, want queue=images attempts=5 timeout=1m", b)
	}

	if got, want := r.NamesForQueue("images"), []string{"resize", "thumbnail"}; !reflect.DeepEqual(got, want) {
		t.Errorf("NamesForQueue(images) = %v, want %v", got, want)
	}
	if got, want := r.Queues(), []string{"default", "images"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Queues() = %v, want %v", got, want)
	}
	if got, want := r.Names(), []string{"notify", "resize", "thumbnail"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestState_Classification(t *testing.T) {
	terminal := []job.State{job.StatePanicked, job.StateCancelled, job.StateComplete, job.StateDead}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false, want true", s)
		}
		if s.IsActive() {
			t.Errorf("%s.IsActive() = true, want false", s)
		}
	}

	active := []job.State{job.StateScheduled, job.StateInProgress, job.StateRetry}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s.IsTerminal() = true, want false", s)
		}
		if !s.IsActive() {
			t.Errorf("%s.IsActive() = false, want true", s)
		}
	}

	// Error and TimedOut are transitional: neither active nor terminal.
	for _, s := range []job.State{job.StateError, job.StateTimedOut} {
		if s.IsTerminal() || s.IsActive() {
			t.Errorf("%s should be neither terminal nor active", s)
		}
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to job.State
		wantErr  bool
	}{
		{job.StateInProgress, job.StateComplete, false},
		{job.StateInProgress, job.StateError, false},
		{job.StateInProgress, job.StateTimedOut, false},
		{job.StateInProgress, job.StateCancelled, false},
		{job.StateInProgress, job.StatePanicked, false},
		{job.StateInProgress, job.StateDead, false},
		{job.StateInProgress, job.StateScheduled, true},
		{job.StateInProgress, job.StateInProgress, true},
		{job.StateInProgress, job.StateRetry, true},
		{job.StateScheduled, job.StateComplete, true},
		{job.StateComplete, job.StateError, true},
	}

	for _, tt := range tests {
		err := job.ValidateTransition(tt.from, tt.to)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
		}
	}
}
