package sensors

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/sensorsend/internal/sample"
)

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// nmeaSentence wraps body in '$' and '*hh' with a valid checksum.
func nmeaSentence(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}

func TestMockSourceAlternatesChannels(t *testing.T) {
	src := NewMockSource(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu     sync.Mutex
		events []Event
	)
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(ev Event) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, ev)
			if len(events) == 6 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("mock source did not produce 6 events")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, ev := range events[:6] {
		want := sample.Gravity
		if i%2 == 1 {
			want = sample.Gyroscope
		}
		if ev.Channel != want {
			t.Errorf("event %d channel = %q, want %q", i, ev.Channel, want)
		}
	}
}

func TestMockGravityMagnitude(t *testing.T) {
	for _, ts := range []float64{0, 0.5, 1.3, 7} {
		g := mockGravity(ts)
		mag := math.Sqrt(g.X*g.X + g.Y*g.Y + g.Z*g.Z)
		if !nearlyEqual(mag, standardGravity) {
			t.Errorf("|g(%v)| = %v, want %v", ts, mag, standardGravity)
		}
	}
}

func TestRawConversions(t *testing.T) {
	if got := AccelToMS2(16384, 0); !nearlyEqual(got, standardGravity) {
		t.Errorf("AccelToMS2(16384, ±2g) = %v, want %v", got, standardGravity)
	}
	if got := AccelToMS2(-2048, 3); !nearlyEqual(got, -standardGravity) {
		t.Errorf("AccelToMS2(-2048, ±16g) = %v, want %v", got, -standardGravity)
	}
	if got := GyroToRadS(131, 0); !nearlyEqual(got, math.Pi/180) {
		t.Errorf("GyroToRadS(131, ±250) = %v, want %v", got, math.Pi/180)
	}
	if got := GyroToRadS(0, 2); got != 0 {
		t.Errorf("GyroToRadS(0) = %v, want 0", got)
	}
}

func TestReadXDR(t *testing.T) {
	input := strings.Join([]string{
		nmeaSentence("IIXDR,G,0.10,,GRAVX,G,0.20,,GRAVY,G,9.80,,GRAVZ"),
		"garbage line",
		nmeaSentence("IIXDR,G,0.01,,GYROX,G,0.02,,GYROY,G,-0.03,,GYROZ"),
		"$IIXDR,G,1.0,,GRAVX*00", // bad checksum
		nmeaSentence("IIXDR,G,1,,MAGX,G,2,,MAGY,G,3,,MAGZ"),
		nmeaSentence("IIXDR,G,5,,GRAVX,G,6,,GRAVY"), // incomplete
		nmeaSentence("GPGLL,3723.2475,N,12158.3416,W,161229.487,A,A"),
	}, "\r\n")

	var events []Event
	err := ReadXDR(strings.NewReader(input), func(ev Event) {
		events = append(events, ev)
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("ReadXDR() error = %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3: %+v", len(events), events)
	}

	if events[0].Channel != sample.Gravity || events[0].Vector != (sample.Vector3{X: 0.1, Y: 0.2, Z: 9.8}) {
		t.Errorf("event 0 = %+v, want gravity (0.1, 0.2, 9.8)", events[0])
	}
	if events[1].Channel != sample.Gyroscope || events[1].Vector != (sample.Vector3{X: 0.01, Y: 0.02, Z: -0.03}) {
		t.Errorf("event 1 = %+v, want gyroscope (0.01, 0.02, -0.03)", events[1])
	}
	if events[2].Channel != sample.Channel("MAG") {
		t.Errorf("event 2 channel = %q, want unrecognised MAG", events[2].Channel)
	}

	// Unrecognised channels reach the aggregator and are ignored there.
	agg := sample.NewAggregator()
	if _, ok := agg.OnRawEvent(events[2].Channel, events[2].Vector); ok {
		t.Error("aggregator accepted MAG channel")
	}
}
