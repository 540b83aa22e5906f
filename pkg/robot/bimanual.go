package robot

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// Bimanual composes two independent arms. Keys of the left arm carry the
// "left_" prefix and keys of the right arm the "right_" prefix.
type Bimanual struct {
	left, right Driver
}

var _ Driver = (*Bimanual)(nil)

// NewBimanual takes ownership of both drivers.
func NewBimanual(left, right Driver) *Bimanual {
	return &Bimanual{left: left, right: right}
}

func (b *Bimanual) Name() string {
	return fmt.Sprintf("%s(%s,%s)", KindBimanual, b.left.Name(), b.right.Name())
}

// Arms returns the left and right drivers.
func (b *Bimanual) Arms() (left, right Driver) {
	return b.left, b.right
}

func (b *Bimanual) Connect(ctx context.Context) error {
	if b.IsConnected() {
		return fmt.Errorf("%s: %w", b.Name(), ErrAlreadyConnected)
	}
	if err := b.left.Connect(ctx); err != nil {
		return fmt.Errorf("left arm: %w", err)
	}
	if err := b.right.Connect(ctx); err != nil {
		// leave no half-connected composite behind
		_ = b.left.Disconnect(ctx)
		return fmt.Errorf("right arm: %w", err)
	}
	return nil
}

func (b *Bimanual) Disconnect(ctx context.Context) error {
	var errs []error
	if err := b.left.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("left arm: %w", err))
	}
	if err := b.right.Disconnect(ctx); err != nil {
		errs = append(errs, fmt.Errorf("right arm: %w", err))
	}
	return errors.Join(errs...)
}

func (b *Bimanual) IsConnected() bool {
	return b.left.IsConnected() && b.right.IsConnected()
}

func (b *Bimanual) ActionFeatures() []string {
	return slices.Concat(
		PrefixFeatures(b.left.ActionFeatures(), Left),
		PrefixFeatures(b.right.ActionFeatures(), Right),
	)
}

func (b *Bimanual) GetObservation(ctx context.Context) (Observation, error) {
	left, err := b.left.GetObservation(ctx)
	if err != nil {
		return nil, fmt.Errorf("left arm: %w", err)
	}
	right, err := b.right.GetObservation(ctx)
	if err != nil {
		return nil, fmt.Errorf("right arm: %w", err)
	}

	obs := PrefixKeys(left, Left)
	for k, v := range PrefixKeys(right, Right) {
		obs[k] = v
	}
	return obs, nil
}

func (b *Bimanual) SendAction(ctx context.Context, action Action) (Action, error) {
	left, err := b.left.SendAction(ctx, StripPrefix(action, Left))
	if err != nil {
		return nil, fmt.Errorf("left arm: %w", err)
	}
	right, err := b.right.SendAction(ctx, StripPrefix(action, Right))
	if err != nil {
		return nil, fmt.Errorf("right arm: %w", err)
	}

	sent := PrefixKeys(left, Left)
	for k, v := range PrefixKeys(right, Right) {
		sent[k] = v
	}
	return sent, nil
}

// Stop stops both arms, even if the first one fails.
func (b *Bimanual) Stop(ctx context.Context) error {
	var errs []error
	if err := b.left.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("left arm: %w", err))
	}
	if err := b.right.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("right arm: %w", err))
	}
	return errors.Join(errs...)
}
