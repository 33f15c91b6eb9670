package engine

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"essim_battery/internal/domain"
	"essim_battery/internal/event"
	"essim_battery/internal/infra"
	"essim_battery/internal/strategy"
)

const t0 = int64(1546300800) // 2019-01-01T00:00:00Z

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, payload})
	return nil
}

func (p *fakePublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgs[len(p.msgs)-1]
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []*domain.RunResult
}

func (r *fakeRecorder) Record(_ context.Context, res *domain.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func testSetup(carriers ...string) *domain.RunSetup {
	cs := make(map[string]domain.CarrierInfo, len(carriers))
	for _, id := range carriers {
		cs[id] = domain.CarrierInfo{ID: id, Type: "ElectricityCommodity"}
	}
	return &domain.RunSetup{
		SimulationID: "sim-1",
		Start:        time.Unix(t0, 0).UTC(),
		End:          time.Unix(t0+23*3600, 0).UTC(),
		Asset: domain.Asset{
			ID:   "BATT1",
			Name: "battery",
			Limits: domain.AssetLimits{
				Capacity:              3.6e7,
				FillLevel:             0.5,
				MaxChargeRate:         5000,
				MaxDischargeRate:      5000,
				MarginalChargeCost:    0.1,
				MarginalDischargeCost: 0.2,
			},
		},
		Carriers: cs,
	}
}

func newTestController(t *testing.T) (*Controller, *fakePublisher, *fakeRecorder) {
	t.Helper()
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	c := NewController(Options{
		NodeID:    "BATT1",
		BaseTopic: "essim",
		Publisher: pub,
		Recorder:  rec,
		Location:  time.UTC,
		Metrics:   &infra.Metrics{},
		DumpPath:  filepath.Join(t.TempDir(), "dump.json"),
	})
	return c, pub, rec
}

func configEv(setup *domain.RunSetup) *event.ConfigEvent {
	return &event.ConfigEvent{BaseEvent: event.BaseEvent{Topic: "essim/node/BATT1/config"}, Setup: setup}
}

func bidEv(ts int64, carrier string) *event.BidRequestEvent {
	return &event.BidRequestEvent{
		BaseEvent: event.BaseEvent{Topic: "essim/node/BATT1/createBid"},
		Timestamp: ts, MinPrice: 0, MaxPrice: 1, Duration: 3600, CarrierID: carrier,
	}
}

func allocEv(ts int64, price float64, carrier string) *event.AllocationEvent {
	return &event.AllocationEvent{
		BaseEvent: event.BaseEvent{Topic: "essim/node/BATT1/allocate"},
		Timestamp: ts, Price: price, CarrierID: carrier,
	}
}

func stopEv() *event.StopEvent {
	return &event.StopEvent{BaseEvent: event.BaseEvent{Topic: "essim/node/BATT1/stop"}, CarrierID: "EC"}
}

func mustHandle(t *testing.T, c *Controller, ev event.Event) {
	t.Helper()
	if err := c.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle(%s) failed: %v", ev.GetType(), err)
	}
}

func assertState(t *testing.T, c *Controller, want domain.ProtocolState) {
	t.Helper()
	if got := c.State(); got != want {
		t.Fatalf("State() = %s, want %s", got, want)
	}
}

func TestController_FullRun(t *testing.T) {
	c, pub, rec := newTestController(t)
	ctx := context.Background()

	mustHandle(t, c, configEv(testSetup("EC")))
	assertState(t, c, domain.StateAwaitingBidRequest)

	mustHandle(t, c, bidEv(t0, "EC"))
	assertState(t, c, domain.StateAwaitingAllocation)

	msg := pub.last()
	if msg.topic != "essim/simulation/BATT1/EC/bid" {
		t.Errorf("bid topic = %q", msg.topic)
	}
	ts, curve, err := event.DecodeBid(msg.payload)
	if err != nil || ts != t0 || len(curve) != 4 {
		t.Fatalf("DecodeBid = %d, %v, %v", ts, curve, err)
	}
	if curve[0].Energy != 1.8e7 || curve[3].Energy != -1.8e7 {
		t.Errorf("curve = %v", curve)
	}

	mustHandle(t, c, allocEv(t0, 0.15, "EC"))
	assertState(t, c, domain.StateAwaitingBidRequest)
	snap := c.Snapshot()
	if snap.Step != 1 || math.Abs(snap.SoC-1.8e7) > 1e-6 {
		t.Errorf("after step 0: step=%d soc=%v, want 1 and 1.8e7", snap.Step, snap.SoC)
	}

	mustHandle(t, c, bidEv(t0+3600, "EC"))
	mustHandle(t, c, allocEv(t0+3600, 0, "EC"))
	if snap := c.Snapshot(); math.Abs(snap.SoC-3.6e7) > 1e-6 || snap.FillFraction < 0.999 {
		t.Errorf("after full charge: soc=%v fill=%v", snap.SoC, snap.FillFraction)
	}

	if err := c.Handle(ctx, stopEv()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	assertState(t, c, domain.StateUninitialized)
	c.WaitRecorded()

	if len(rec.results) != 1 {
		t.Fatalf("recorded %d results, want 1", len(rec.results))
	}
	res := rec.results[0]
	if res.CommittedSteps() != 2 || res.StartTimestamp != t0 || res.Failed {
		t.Errorf("result: steps=%d start=%d failed=%v", res.CommittedSteps(), res.StartTimestamp, res.Failed)
	}
	if got := len(res.Carriers["EC"].Bids); got != 2 {
		t.Errorf("recorded %d bids, want 2", got)
	}
}

func TestController_IgnoresUnknownAndMalformed(t *testing.T) {
	c, _, _ := newTestController(t)
	mustHandle(t, c, configEv(testSetup("EC")))

	mustHandle(t, c, &event.UnknownEvent{BaseEvent: event.BaseEvent{Topic: "essim/node/BATT1/ping"}})
	assertState(t, c, domain.StateAwaitingBidRequest)

	bad := &event.MalformedEvent{
		BaseEvent: event.BaseEvent{Topic: "essim/node/BATT1/createBid"},
		Kind:      event.TypeBidRequest,
		Err:       &domain.MessageError{Topic: "createBid", Err: domain.ErrMissingAttribute},
	}
	err := c.Handle(context.Background(), bad)
	if !domain.IsRecoverable(err) {
		t.Fatalf("malformed message error should be recoverable, got %v", err)
	}
	assertState(t, c, domain.StateAwaitingBidRequest)
	if c.opts.Metrics.Snapshot().MessagesDropped != 1 {
		t.Error("expected one dropped message")
	}
}

func TestController_MessagesWithoutRun(t *testing.T) {
	tests := []struct {
		name string
		ev   event.Event
	}{
		{"bid", bidEv(t0, "EC")},
		{"allocation", allocEv(t0, 0.5, "EC")},
		{"stop", stopEv()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestController(t)
			err := c.Handle(context.Background(), tt.ev)
			if !errors.Is(err, domain.ErrNoActiveRun) {
				t.Errorf("err = %v, want ErrNoActiveRun", err)
			}
			assertState(t, c, domain.StateUninitialized)
		})
	}
}

func TestController_ConfigErrors(t *testing.T) {
	t.Run("decode failure", func(t *testing.T) {
		c, _, _ := newTestController(t)
		ev := &event.ConfigEvent{Err: &domain.ConfigError{Field: "startDate", Err: domain.ErrMissingAttribute}}
		if err := c.Handle(context.Background(), ev); !domain.IsFatal(err) {
			t.Fatalf("err = %v, want fatal", err)
		}
		assertState(t, c, domain.StateError)

		if err := c.Handle(context.Background(), bidEv(t0, "EC")); !domain.IsRecoverable(err) {
			t.Errorf("bid in ERROR should be dropped, got %v", err)
		}
		assertState(t, c, domain.StateError)

		mustHandle(t, c, configEv(testSetup("EC")))
		assertState(t, c, domain.StateAwaitingBidRequest)
	})

	t.Run("arbitrage", func(t *testing.T) {
		c, _, _ := newTestController(t)
		setup := testSetup("EC")
		setup.Asset.Limits.MarginalChargeCost = 0.5
		err := c.Handle(context.Background(), configEv(setup))
		if !errors.Is(err, domain.ErrArbitrage) {
			t.Errorf("err = %v, want ErrArbitrage", err)
		}
		assertState(t, c, domain.StateError)
	})

	t.Run("no carriers", func(t *testing.T) {
		c, _, _ := newTestController(t)
		_ = c.Handle(context.Background(), configEv(testSetup()))
		assertState(t, c, domain.StateError)
	})

	t.Run("config during run is ignored", func(t *testing.T) {
		c, _, _ := newTestController(t)
		mustHandle(t, c, configEv(testSetup("EC")))
		mustHandle(t, c, bidEv(t0, "EC"))

		err := c.Handle(context.Background(), configEv(testSetup("EC")))
		if !errors.Is(err, domain.ErrUnexpectedMessage) {
			t.Errorf("err = %v, want ErrUnexpectedMessage", err)
		}
		assertState(t, c, domain.StateAwaitingAllocation)
	})
}

func TestController_ResolutionFailureHaltsRun(t *testing.T) {
	c, _, rec := newTestController(t)
	mustHandle(t, c, configEv(testSetup("EC")))
	mustHandle(t, c, bidEv(t0, "EC"))

	err := c.Handle(context.Background(), allocEv(t0, 2, "EC"))
	var re *domain.ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want ResolutionError", err)
	}
	assertState(t, c, domain.StateError)

	mustHandle(t, c, stopEv())
	assertState(t, c, domain.StateUninitialized)
	c.WaitRecorded()
	if len(rec.results) != 1 || !rec.results[0].Failed {
		t.Fatalf("failed run should still be recorded and flagged")
	}
}

func TestController_OutOfOrder(t *testing.T) {
	c, pub, _ := newTestController(t)
	mustHandle(t, c, configEv(testSetup("EC")))

	if err := c.Handle(context.Background(), allocEv(t0, 0.5, "EC")); !domain.IsRecoverable(err) {
		t.Errorf("allocation before bid: err = %v, want recoverable", err)
	}

	mustHandle(t, c, bidEv(t0, "EC"))
	if err := c.Handle(context.Background(), bidEv(t0+3600, "EC")); !errors.Is(err, domain.ErrStepOutOfOrder) {
		t.Errorf("bid for next step before allocation: err = %v", err)
	}
	if err := c.Handle(context.Background(), bidEv(t0, "HEAT")); !errors.Is(err, domain.ErrUnknownCarrier) {
		t.Errorf("unknown carrier: err = %v", err)
	}

	// A repeated request for the same step replaces the curve and re-publishes.
	mustHandle(t, c, bidEv(t0, "EC"))
	if len(pub.msgs) != 2 {
		t.Errorf("published %d bids, want 2", len(pub.msgs))
	}
	assertState(t, c, domain.StateAwaitingAllocation)
}

func TestController_MultiCarrier(t *testing.T) {
	c, _, _ := newTestController(t)
	mustHandle(t, c, configEv(testSetup("EC", "GAS")))

	mustHandle(t, c, bidEv(t0, "EC"))
	mustHandle(t, c, bidEv(t0, "GAS"))

	mustHandle(t, c, allocEv(t0, 0, "EC"))
	assertState(t, c, domain.StateAwaitingAllocation)
	if p := c.Snapshot().Pending; len(p) != 1 || p[0] != "GAS" {
		t.Errorf("Pending = %v, want [GAS]", p)
	}

	mustHandle(t, c, allocEv(t0, 1, "GAS"))
	assertState(t, c, domain.StateAwaitingBidRequest)
	if snap := c.Snapshot(); snap.Step != 1 || math.Abs(snap.SoC-1.8e7) > 1e-6 {
		t.Errorf("after step 0: step=%d soc=%v", snap.Step, snap.SoC)
	}
}

func TestController_MultiCarrierSequential(t *testing.T) {
	c, pub, _ := newTestController(t)
	mustHandle(t, c, configEv(testSetup("EC", "HC")))

	mustHandle(t, c, bidEv(t0, "EC"))
	mustHandle(t, c, allocEv(t0, 0, "EC"))
	assertState(t, c, domain.StateAwaitingBidRequest)
	if snap := c.Snapshot(); snap.Step != 0 {
		t.Fatalf("step committed before HC was allocated: step=%d", snap.Step)
	}

	mustHandle(t, c, bidEv(t0, "HC"))
	if len(pub.msgs) != 2 {
		t.Errorf("published %d bids, want 2", len(pub.msgs))
	}
	assertState(t, c, domain.StateAwaitingAllocation)

	mustHandle(t, c, allocEv(t0, 1, "HC"))
	assertState(t, c, domain.StateAwaitingBidRequest)
	if snap := c.Snapshot(); snap.Step != 1 || math.Abs(snap.SoC-1.8e7) > 1e-6 {
		t.Errorf("after step 0: step=%d soc=%v", snap.Step, snap.SoC)
	}
}

func TestController_DroppedBidKeepsStepClock(t *testing.T) {
	c, pub, _ := newTestController(t)
	mustHandle(t, c, configEv(testSetup("EC")))

	mustHandle(t, c, bidEv(t0, "EC"))
	mustHandle(t, c, allocEv(t0, 0.15, "EC"))
	mustHandle(t, c, bidEv(t0+3600, "EC"))
	assertState(t, c, domain.StateAwaitingAllocation)

	stray := bidEv(t0+3600, "EC")
	stray.Duration = 7200
	if err := c.Handle(context.Background(), stray); !errors.Is(err, domain.ErrStepOutOfOrder) {
		t.Fatalf("bid with a different duration: err = %v, want ErrStepOutOfOrder", err)
	}
	if len(pub.msgs) != 2 {
		t.Errorf("published %d bids, want 2", len(pub.msgs))
	}

	mustHandle(t, c, allocEv(t0+3600, 0.15, "EC"))
	assertState(t, c, domain.StateAwaitingBidRequest)
	if snap := c.Snapshot(); snap.Step != 2 {
		t.Errorf("step = %d, want 2", snap.Step)
	}
}

func TestController_PublishFailureKeepsBid(t *testing.T) {
	c, pub, _ := newTestController(t)
	pub.err = errors.New("not connected")
	mustHandle(t, c, configEv(testSetup("EC")))
	mustHandle(t, c, bidEv(t0, "EC"))
	assertState(t, c, domain.StateAwaitingAllocation)
	mustHandle(t, c, allocEv(t0, 0.15, "EC"))
	assertState(t, c, domain.StateAwaitingBidRequest)
}

type panicBidder struct{}

func (panicBidder) CreateBid(strategy.BidRequest) (domain.BidCurve, error) { panic("boom") }
func (panicBidder) Allocate(domain.BidRecord, float64, float64) (float64, float64, error) {
	return 0, 0, nil
}

func TestController_RunLoop(t *testing.T) {
	updates := make(chan Snapshot, 32)
	dump := filepath.Join(t.TempDir(), "dump.json")
	c := NewController(Options{
		NodeID:    "BATT1",
		BaseTopic: "essim",
		Publisher: &fakePublisher{},
		Location:  time.UTC,
		Metrics:   &infra.Metrics{},
		DumpPath:  dump,
		NewBidder: func(*domain.RunSetup) strategy.Bidder { return panicBidder{} },
		OnStateUpdate: func(s Snapshot) {
			updates <- s
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	wait := func(want domain.ProtocolState) {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case s := <-updates:
				if s.State == want {
					return
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %s (now %s)", want, c.State())
			}
		}
	}

	c.Inbox() <- configEv(testSetup("EC"))
	wait(domain.StateAwaitingBidRequest)

	c.Inbox() <- bidEv(t0, "EC")
	wait(domain.StateError)

	if _, err := os.Stat(dump); err != nil {
		t.Errorf("state dump not written: %v", err)
	}

	// The loop survives the panic and accepts a new stop.
	c.Inbox() <- stopEv()
	wait(domain.StateUninitialized)
}
