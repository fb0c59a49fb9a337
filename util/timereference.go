package util

import (
	"sync"
	"time"
)

// TimeReference abstracts the wall clock so deadline logic can be driven by
// an artificial clock in tests.
type TimeReference interface {
	Get() time.Time
}

type realTimeReference struct{}

func NewRealTimeReference() TimeReference {
	return realTimeReference{}
}

func (realTimeReference) Get() time.Time {
	return time.Now()
}

type ArtificialTimeReference struct {
	mutex   sync.Mutex
	current time.Time
}

func NewArtificialTimeReference() *ArtificialTimeReference {
	return &ArtificialTimeReference{current: time.Unix(0, 0)}
}

func (atr *ArtificialTimeReference) Get() time.Time {
	atr.mutex.Lock()
	defer atr.mutex.Unlock()
	return atr.current
}

func (atr *ArtificialTimeReference) Set(newVal time.Time) {
	atr.mutex.Lock()
	defer atr.mutex.Unlock()
	atr.current = newVal
}

func (atr *ArtificialTimeReference) Add(delta time.Duration) {
	atr.mutex.Lock()
	defer atr.mutex.Unlock()
	atr.current = atr.current.Add(delta)
}
