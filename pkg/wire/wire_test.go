package wire

import (
	"errors"
	"math"
	"reflect"
	"slices"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	obs := map[string]any{
		"shoulder_pan.pos": 12.5,
		"gripper.pos":      -3.0,
		"status":           "ok",
		"enabled":          true,
		"camera":           nil,
	}

	data, err := Encode(obs)
	if err != nil {
		t.Fatalf("Encode() = %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	if !reflect.DeepEqual(got, obs) {
		t.Errorf("round trip = %v, want %v", got, obs)
	}
}

func TestSerializableCoercesOnlyBadValues(t *testing.T) {
	ch := make(chan int)
	obs := map[string]any{
		"elbow_flex.pos": 7.0,
		"frame":          ch,
		"temperature":    math.NaN(),
		"label":          "front",
	}

	safe, coerced := Serializable(obs)
	slices.Sort(coerced)
	if !slices.Equal(coerced, []string{"frame", "temperature"}) {
		t.Fatalf("coerced = %v", coerced)
	}

	data, err := Encode(safe)
	if err != nil {
		t.Fatalf("Encode(serializable) = %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}

	if got["elbow_flex.pos"] != 7.0 || got["label"] != "front" {
		t.Errorf("untouched fields changed: %v", got)
	}
	if s, ok := got["frame"].(string); !ok || s == "" {
		t.Errorf("frame = %#v, want a string placeholder", got["frame"])
	}
	if got["temperature"] != "NaN" {
		t.Errorf("temperature = %#v, want \"NaN\"", got["temperature"])
	}
	if _, ok := obs["frame"].(chan int); !ok {
		t.Error("Serializable mutated its input")
	}
}

func TestEncodeRejectsUnserializable(t *testing.T) {
	if _, err := Encode(map[string]any{"f": func() {}}); err == nil {
		t.Fatal("Encode() accepted a func value")
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, in := range []string{"{not json", "[1,2]", "42", "null", ""} {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("Decode(%q) = %v, want ErrMalformedMessage", in, err)
		}
	}
}
