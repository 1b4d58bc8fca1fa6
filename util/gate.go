package util

// A Gate limits concurrency. Each gate allows at most n goroutines inside the
// section it protects. A goroutine enters by calling Enter(), which blocks
// while the gate is full, and signals that it is done by calling Leave().
type Gate chan struct{}

// NewGate returns a Gate admitting at most n entries at a time.
func NewGate(n int) Gate {
	return Gate(make(chan struct{}, n))
}

// Enter blocks until there are fewer than n goroutines inside the gate, and
// then enters. It is safe to call from multiple goroutines.
func (g Gate) Enter() {
	g <- struct{}{}
}

// Leave exits the gate. Balance every call to Enter with a call to Leave.
// The two calls do not need to come from the same goroutine.
func (g Gate) Leave() {
	<-g
}
