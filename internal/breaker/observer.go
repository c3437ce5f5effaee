package breaker

import "time"

// Observer is told about breaker state changes. It is called synchronously
// after the breaker has released its lock, so implementations must return
// quickly and must not call back into the same breaker.
type Observer interface {
	OnStateChange(name string, from, to State, at time.Time)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(name string, from, to State, at time.Time)

func (f ObserverFunc) OnStateChange(name string, from, to State, at time.Time) {
	f(name, from, to, at)
}

// MultiObserver forwards to each observer in order.
type MultiObserver []Observer

func (m MultiObserver) OnStateChange(name string, from, to State, at time.Time) {
	for _, o := range m {
		if o != nil {
			o.OnStateChange(name, from, to, at)
		}
	}
}
