// Package sensor provides the mock flow sensors that feed the producer.
package sensor

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/c360/semtrust/message"
)

// band is a probability cut-off and the inclusive value range chosen below it
type band struct {
	below    float64
	low, high int
}

// Good sensors: 5% 175-180, 3% 200-210, otherwise 180-199
var goodBands = []band{{0.05, 175, 180}, {0.08, 200, 210}, {1, 180, 199}}

// Bad sensors: 15% 175-180, 5% 200-210, otherwise 180-199
var badBands = []band{{0.15, 175, 180}, {0.20, 200, 210}, {1, 180, 199}}

// Sensor produces readings for one sensor id
type Sensor struct {
	ID  string
	Bad bool

	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// New returns a sensor. A nil rng uses a randomly seeded source.
func New(id string, bad bool, rng *rand.Rand) *Sensor {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sensor{ID: id, Bad: bad, rng: rng, now: time.Now}
}

// Next returns Reading or BadReading depending on how the sensor was configured
func (s *Sensor) Next() message.Reading {
	if s.Bad {
		return s.BadReading()
	}
	return s.Reading()
}

// Reading draws a value from the well-behaved distribution
func (s *Sensor) Reading() message.Reading {
	return s.draw(goodBands)
}

// BadReading draws a value from the drifting distribution
func (s *Sensor) BadReading() message.Reading {
	return s.draw(badBands)
}

func (s *Sensor) draw(bands []band) message.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.rng.Float64()
	b := bands[len(bands)-1]
	for _, candidate := range bands {
		if p < candidate.below {
			b = candidate
			break
		}
	}
	value := b.low + s.rng.IntN(b.high-b.low+1)
	return message.Reading{SensorID: s.ID, Value: uint8(value), Timestamp: s.now().UTC()}
}
