// Package idgen generates unique identifiers for traced commands, progress
// bars and recordings.
package idgen

import (
	"log"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

var generatorMutex sync.Mutex
var generatorInstantiated bool
var generator Generator

// Generator can generate IDs.
type Generator interface {
	// Generate an ID
	Generate() string
}

// NewSequential returns a generator whose IDs count up from "1".
func NewSequential() Generator {
	return &sequentialGenerator{}
}

// NewParallel returns a generator that produces globally unique IDs. The IDs
// are not deterministic.
func NewParallel() Generator {
	return parallelGenerator{}
}

// UseSequential configures the process-wide generator to produce
// sequential IDs.
func UseSequential() {
	use(NewSequential())
}

// UseParallel configures the process-wide generator to produce globally
// unique IDs.
func UseParallel() {
	use(NewParallel())
}

func use(g Generator) {
	generatorMutex.Lock()
	defer generatorMutex.Unlock()

	if generatorInstantiated {
		log.Panic("cannot change id generator type after using it")
	}

	generator = g
	generatorInstantiated = true
}

// Get returns the process-wide generator. Unless configured otherwise it is
// sequential.
func Get() Generator {
	generatorMutex.Lock()
	defer generatorMutex.Unlock()

	if !generatorInstantiated {
		generator = NewSequential()
		generatorInstantiated = true
	}

	return generator
}

type sequentialGenerator struct {
	nextID uint64
}

func (g *sequentialGenerator) Generate() string {
	idNumber := atomic.AddUint64(&g.nextID, 1)
	return strconv.FormatUint(idNumber, 10)
}

type parallelGenerator struct{}

func (parallelGenerator) Generate() string {
	return xid.New().String()
}
