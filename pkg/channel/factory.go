package channel

import (
	"fmt"
)

// defaultPriority orders channels for the default-provider lookup.
var defaultPriority = []Kind{KindWhatsApp, KindSmsInbound, KindSmsOtp, KindEmail}

// Factory resolves the provider for a requested channel and exposes a
// priority-ordered default among the configured ones.
type Factory struct {
	providers map[Kind]Provider
	priority  []Kind
}

func NewFactory(providers ...Provider) *Factory {
	f := &Factory{
		providers: make(map[Kind]Provider),
		priority:  defaultPriority,
	}
	for _, p := range providers {
		f.providers[p.Kind()] = p
	}
	return f
}

// Get resolves a configured provider for the channel tag.
func (f *Factory) Get(kind Kind) (Provider, error) {
	p, ok := f.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, kind)
	}
	if !p.IsConfigured() {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, kind)
	}
	return p, nil
}

// Inbound resolves a configured inbound provider for the channel tag.
func (f *Factory) Inbound(kind Kind) (InboundProvider, error) {
	p, err := f.Get(kind)
	if err != nil {
		return nil, err
	}
	inbound, ok := p.(InboundProvider)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an inbound channel", ErrUnknownChannel, kind)
	}
	return inbound, nil
}

// Default returns the first configured provider in priority order.
func (f *Factory) Default() (Provider, error) {
	for _, kind := range f.priority {
		if p, ok := f.providers[kind]; ok && p.IsConfigured() {
			return p, nil
		}
	}
	return nil, ErrNotConfigured
}

// Configured lists the channel tags that are ready to serve, in priority
// order.
func (f *Factory) Configured() []Kind {
	var kinds []Kind
	for _, kind := range f.priority {
		if p, ok := f.providers[kind]; ok && p.IsConfigured() {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
