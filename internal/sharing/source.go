package sharing

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/onnwee/spotstr/internal/geo"
)

// Position is one fix from a position source.
type Position struct {
	Lat       float64
	Lng       float64
	Accuracy  float64
	Heading   float64
	Speed     float64
	Timestamp time.Time
}

// WatchID identifies an active watch on a PositionSource.
type WatchID int

// PositionSource delivers device positions.
type PositionSource interface {
	CurrentPosition(ctx context.Context) (Position, error)
	// Watch calls fn for every new fix until ClearWatch. fn may be called
	// from any goroutine.
	Watch(fn func(Position)) WatchID
	ClearWatch(id WatchID)
}

// Simulator defaults: a 5 km circle around Funchal, Madeira.
const (
	DefaultSimCenterLat = 32.742293
	DefaultSimCenterLng = -17.006128
	DefaultSimRadiusKm  = 5.0
	DefaultSimSpeed     = 10.0 // m/s
	DefaultSimAccuracy  = 10.0 // m
	DefaultSimInterval  = time.Second
)

// Simulator is a PositionSource that moves in a circle.
type Simulator struct {
	Center   geo.Point
	RadiusKm float64
	Speed    float64
	Accuracy float64
	Interval time.Duration

	clock clock.Clock
	start time.Time

	mu      sync.Mutex
	watches map[WatchID]chan struct{}
	nextID  WatchID
}

// NewSimulator creates a Simulator with the default track. A nil clock uses
// the wall clock.
func NewSimulator(clk clock.Clock) *Simulator {
	if clk == nil {
		clk = clock.New()
	}
	return &Simulator{
		Center:   geo.Point{Lat: DefaultSimCenterLat, Lng: DefaultSimCenterLng},
		RadiusKm: DefaultSimRadiusKm,
		Speed:    DefaultSimSpeed,
		Accuracy: DefaultSimAccuracy,
		Interval: DefaultSimInterval,
		clock:    clk,
		start:    clk.Now(),
		watches:  make(map[WatchID]chan struct{}),
		nextID:   1,
	}
}

// PositionAt returns the simulated fix elapsed after the simulator started.
func (s *Simulator) PositionAt(elapsed time.Duration) Position {
	circumferenceM := 2 * math.Pi * s.RadiusKm * 1000
	lap := circumferenceM / s.Speed // seconds per lap
	angle := elapsed.Seconds() / lap * 2 * math.Pi

	// 1 degree of latitude is about 111 km.
	dLat := s.RadiusKm / 111.0
	dLng := s.RadiusKm / (111.0 * math.Cos(s.Center.Lat*math.Pi/180))

	return Position{
		Lat:       s.Center.Lat + dLat*math.Cos(angle),
		Lng:       s.Center.Lng + dLng*math.Sin(angle),
		Accuracy:  s.Accuracy,
		Heading:   math.Mod((angle+math.Pi/2)*180/math.Pi, 360),
		Speed:     s.Speed,
		Timestamp: s.start.Add(elapsed),
	}
}

// CurrentPosition returns the fix for the current clock time.
func (s *Simulator) CurrentPosition(ctx context.Context) (Position, error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	return s.PositionAt(s.clock.Since(s.start)), nil
}

// Watch delivers an initial fix and then one per Interval.
func (s *Simulator) Watch(fn func(Position)) WatchID {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	stop := make(chan struct{})
	s.watches[id] = stop
	s.mu.Unlock()

	ticker := s.clock.Ticker(s.Interval)
	go func() {
		defer ticker.Stop()
		fn(s.PositionAt(s.clock.Since(s.start)))
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				fn(s.PositionAt(s.clock.Since(s.start)))
			}
		}
	}()
	return id
}

// ClearWatch stops a watch. Unknown ids are ignored.
func (s *Simulator) ClearWatch(id WatchID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.watches[id]; ok {
		close(stop)
		delete(s.watches, id)
	}
}
