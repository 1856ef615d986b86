package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string stamped with the wall clock. Used for run ids.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		panic(err)
	}
	return id.String()
}

// Generator hands out ULIDs stamped with simulated time. Two generators
// built with the same seed produce the same sequence for the same
// timestamps, so replaying a run yields identical fill and trade ids.
type Generator struct {
	entropy io.Reader
	last    time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

// At returns the next id for simulated time t. Timestamps that go
// backwards are clamped to the last one seen.
func (g *Generator) At(t time.Time) string {
	if t.Before(g.last) {
		t = g.last
	}
	g.last = t

	id, err := ulid.New(ulid.Timestamp(t.UTC()), g.entropy)
	if err != nil {
		panic(err)
	}
	return id.String()
}
