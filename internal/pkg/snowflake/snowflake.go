package snowflake

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Bit layout of an id, most significant first:
//
//	1 bit unused | 41 bits ms since Epoch | 5 bits datacenter | 5 bits worker | 12 bits sequence
const (
	// Epoch is the custom epoch in unix milliseconds (2010-11-04T01:42:54.657Z).
	Epoch int64 = 1288834974657

	WorkerIDBits     = 5
	DatacenterIDBits = 5
	SequenceBits     = 12

	MaxWorkerID     int64 = -1 ^ (-1 << WorkerIDBits)
	MaxDatacenterID int64 = -1 ^ (-1 << DatacenterIDBits)
	sequenceMask    int64 = -1 ^ (-1 << SequenceBits)

	workerIDShift     = SequenceBits
	datacenterIDShift = SequenceBits + WorkerIDBits
	timestampShift    = SequenceBits + WorkerIDBits + DatacenterIDBits
)

var (
	// ErrInvalidWorkerID is returned when the worker id does not fit in WorkerIDBits.
	ErrInvalidWorkerID = fmt.Errorf("snowflake: worker id must be between 0 and %d", MaxWorkerID)
	// ErrInvalidDatacenterID is returned when the datacenter id does not fit in DatacenterIDBits.
	ErrInvalidDatacenterID = fmt.Errorf("snowflake: datacenter id must be between 0 and %d", MaxDatacenterID)
	// ErrClockMovedBackwards is the sentinel matched by ClockRegressionError.
	ErrClockMovedBackwards = errors.New("snowflake: clock moved backwards")
)

// ClockRegressionError reports that the wall clock is behind the last issued timestamp.
type ClockRegressionError struct {
	Last    int64 // last issued timestamp, unix ms
	Current int64 // observed timestamp, unix ms
}

func (e *ClockRegressionError) Error() string {
	return fmt.Sprintf("snowflake: clock moved backwards, refusing to generate id for %d milliseconds", e.Last-e.Current)
}

// Is makes errors.Is(err, ErrClockMovedBackwards) hold.
func (e *ClockRegressionError) Is(target error) bool {
	return target == ErrClockMovedBackwards
}

// Clock returns the current time in unix milliseconds.
type Clock func() int64

// SystemClock reads the wall clock.
func SystemClock() int64 {
	return time.Now().UnixMilli()
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock Clock) Option {
	return func(g *Generator) {
		g.clock = clock
	}
}

// Generator issues unique, time ordered 64-bit ids. It is safe for concurrent use.
type Generator struct {
	datacenterID int64
	workerID     int64
	clock        Clock

	// guarded by mu
	mu            sync.Mutex
	sequence      int64
	lastTimestamp int64
}

// New creates a generator for the given datacenter and worker.
func New(datacenterID, workerID int64, opts ...Option) (*Generator, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	if datacenterID < 0 || datacenterID > MaxDatacenterID {
		return nil, ErrInvalidDatacenterID
	}

	g := &Generator{
		datacenterID:  datacenterID,
		workerID:      workerID,
		clock:         SystemClock,
		lastTimestamp: -1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// NextID returns the next id. It fails with *ClockRegressionError when the
// clock is behind the last issued timestamp; no id is consumed in that case.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := g.clock()
	if timestamp < g.lastTimestamp {
		return 0, &ClockRegressionError{Last: g.lastTimestamp, Current: timestamp}
	}

	if timestamp == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & sequenceMask
		if g.sequence == 0 {
			timestamp = g.waitNextMillis(g.lastTimestamp)
		}
	} else {
		g.sequence = 0
	}
	g.lastTimestamp = timestamp

	return (timestamp-Epoch)<<timestampShift |
		g.datacenterID<<datacenterIDShift |
		g.workerID<<workerIDShift |
		g.sequence, nil
}

// waitNextMillis spins until the clock passes last.
func (g *Generator) waitNextMillis(last int64) int64 {
	timestamp := g.clock()
	for timestamp <= last {
		timestamp = g.clock()
	}
	return timestamp
}

// Parts is an id split back into its fields.
type Parts struct {
	Timestamp    int64 // unix ms
	DatacenterID int64
	WorkerID     int64
	Sequence     int64
}

// Time returns the issuance time of the id.
func (p Parts) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// Decompose splits an id produced by a Generator.
func Decompose(id int64) Parts {
	return Parts{
		Timestamp:    (id >> timestampShift) + Epoch,
		DatacenterID: (id >> datacenterIDShift) & MaxDatacenterID,
		WorkerID:     (id >> workerIDShift) & MaxWorkerID,
		Sequence:     id & sequenceMask,
	}
}
