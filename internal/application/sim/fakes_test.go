package sim

import (
	"github.com/alejandrodnm/propamm/internal/adapters/native"
	"github.com/alejandrodnm/propamm/internal/domain"
	"github.com/alejandrodnm/propamm/internal/ports"
	"github.com/alejandrodnm/propamm/internal/strategy"
)

// fakeBackend prices with a closure and records every notify.
type fakeBackend struct {
	price     func(call domain.PriceCall) (uint64, error)
	notifyErr error
	prices    int
	notifies  []domain.NotifyCall
}

func (f *fakeBackend) Price(call domain.PriceCall, _ *domain.Storage) (domain.Execution, error) {
	f.prices++
	out, err := f.price(call)
	return domain.Execution{Output: out}, err
}

func (f *fakeBackend) Notify(call domain.NotifyCall, _ *domain.Storage) (domain.Execution, error) {
	f.notifies = append(f.notifies, call)
	return domain.Execution{}, f.notifyErr
}

func (f *fakeBackend) Form() domain.BackendForm { return domain.FormNative }

func constantOutput(out float64) *fakeBackend {
	return &fakeBackend{price: func(domain.PriceCall) (uint64, error) { return domain.ToNano(out), nil }}
}

// fakeArtifact hands out native backends built by a closure.
type fakeArtifact struct {
	name      string
	newNative func() (ports.Backend, error)
}

func (a *fakeArtifact) Name() string                         { return a.name }
func (a *fakeArtifact) NewNative() (ports.Backend, error)      { return a.newNative() }
func (a *fakeArtifact) NewInterpreted() (ports.Backend, error) { return nil, domain.ErrFormUnavailable }

func cpBackend(feeBps uint64) ports.Backend {
	b, err := native.New(strategy.Strategy{Name: strategy.NameCP30, Swap: strategy.FixedFeeSwap(feeBps)})
	if err != nil {
		panic(err)
	}
	return b
}
