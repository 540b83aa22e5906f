package robot

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestRegistry_UnknownKind(t *testing.T) {
	r := DefaultRegistry(nil)

	_, err := r.New(DriverConfig{Kind: "piper"})
	if !errors.Is(err, ErrUnknownDriverKind) {
		t.Fatalf("New(piper) error = %v, want ErrUnknownDriverKind", err)
	}
}

func TestRegistry_Kinds(t *testing.T) {
	r := DefaultRegistry(nil)
	r.Register(KindClient, func(DriverConfig) (Driver, error) { return NewSim("remote", 0), nil })

	want := []string{KindBimanual, KindClient, KindSim, KindSO101Follower}
	if got := r.Kinds(); !slices.Equal(got, want) {
		t.Errorf("Kinds() = %v, want %v", got, want)
	}
}

func TestRegistry_BimanualFromConfig(t *testing.T) {
	r := DefaultRegistry(nil)

	d, err := r.New(DriverConfig{
		Kind:  KindBimanual,
		Left:  &DriverConfig{Kind: KindSim, Port: "left"},
		Right: &DriverConfig{Kind: KindSim, Port: "right"},
	})
	if err != nil {
		t.Fatalf("New(bimanual) = %v", err)
	}
	if _, ok := d.(*Bimanual); !ok {
		t.Fatalf("New(bimanual) returned %T", d)
	}
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	if n := len(d.ActionFeatures()); n != 2*len(AllMotors()) {
		t.Errorf("ActionFeatures() has %d keys, want %d", n, 2*len(AllMotors()))
	}
}

func TestRegistry_BimanualRequiresBothArms(t *testing.T) {
	r := DefaultRegistry(nil)

	if _, err := r.New(DriverConfig{Kind: KindBimanual, Left: &DriverConfig{Kind: KindSim}}); err == nil {
		t.Fatal("New(bimanual) without right arm succeeded")
	}
	_, err := r.New(DriverConfig{
		Kind:  KindBimanual,
		Left:  &DriverConfig{Kind: KindSim},
		Right: &DriverConfig{Kind: "nope"},
	})
	if !errors.Is(err, ErrUnknownDriverKind) {
		t.Fatalf("New(bimanual) with unknown right kind = %v", err)
	}
}

func TestRegistry_FollowerRequiresPort(t *testing.T) {
	if _, err := DefaultRegistry(nil).New(DriverConfig{Kind: KindSO101Follower}); err == nil {
		t.Fatal("New(so101_follower) without port succeeded")
	}
}
