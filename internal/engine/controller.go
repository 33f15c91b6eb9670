package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"essim_battery/internal/domain"
	"essim_battery/internal/event"
	"essim_battery/internal/infra"
	"essim_battery/internal/strategy"
)

const (
	defaultInboxSize     = 256
	defaultRecordTimeout = 2 * time.Minute
	defaultDumpPath      = "panic_dump.json"
)

// BidderFactory builds the bidder for a freshly configured run.
type BidderFactory func(setup *domain.RunSetup) strategy.Bidder

// Options configures a Controller.
type Options struct {
	NodeID    string
	BaseTopic string
	InboxSize int
	Inbox     chan event.Event // shared with the transport; created when nil

	Publisher domain.Publisher
	Recorder  domain.Recorder // may be nil
	NewBidder BidderFactory   // defaults to a StorageBidder in Location
	Location  *time.Location
	Metrics   *infra.Metrics

	// Boundary: used to notify the monitor of state changes
	OnStateUpdate func(Snapshot)

	DumpPath      string
	RecordTimeout time.Duration
}

// Controller is the protocol state machine of one battery node. It is a
// single-threaded event processor: all messages go through the inbox and are
// handled one at a time.
type Controller struct {
	inbox chan event.Event
	opts  Options

	state  domain.ProtocolState
	asset  *domain.AssetState
	bidder strategy.Bidder

	lastSeq        uint64
	lastBid        *BidInfo
	lastAllocation *AllocationInfo

	recording sync.WaitGroup

	mu       sync.RWMutex // Used only for external reads (e.g. monitor)
	snapshot Snapshot
}

// NewController creates a controller in UNINITIALIZED.
func NewController(opts Options) *Controller {
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.NewBidder == nil {
		loc := opts.Location
		opts.NewBidder = func(setup *domain.RunSetup) strategy.Bidder {
			return strategy.NewStorageBidder(setup, loc)
		}
	}
	if opts.Metrics == nil {
		opts.Metrics = infra.GlobalMetrics
	}
	if opts.DumpPath == "" {
		opts.DumpPath = defaultDumpPath
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = defaultRecordTimeout
	}

	inbox := opts.Inbox
	if inbox == nil {
		inbox = make(chan event.Event, opts.InboxSize)
	}
	c := &Controller{
		inbox: inbox,
		opts:  opts,
		state: domain.StateUninitialized,
	}
	c.snapshot = c.buildSnapshot()
	return c
}

// Inbox returns the event channel. The transport sends decoded messages here.
func (c *Controller) Inbox() chan<- event.Event {
	return c.inbox
}

// Run starts the main event loop. This MUST be run in a single goroutine.
// A panic while handling a message dumps the state, halts the run in ERROR
// and keeps the loop alive.
func (c *Controller) Run(ctx context.Context) {
	slog.Info("Controller started", slog.String("node", c.opts.NodeID))

	for {
		select {
		case <-ctx.Done():
			slog.Info("Controller stopping...")
			c.recording.Wait()
			return
		case ev := <-c.inbox:
			start := time.Now()
			c.safeHandle(ctx, ev)
			c.opts.Metrics.RecordMessage(time.Since(start).Nanoseconds())
		}
	}
}

func (c *Controller) safeHandle(ctx context.Context, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r), slog.Uint64("seq", ev.GetSeq()))
			c.DumpState(c.opts.DumpPath)
			c.fail(fmt.Errorf("panic: %v", r))
			c.publishSnapshot()
		}
	}()
	_ = c.Handle(ctx, ev)
}

// Handle processes one event synchronously and returns the error that
// affected it, if any. Recoverable errors leave the state untouched; fatal
// errors move the run to ERROR.
func (c *Controller) Handle(ctx context.Context, ev event.Event) error {
	c.lastSeq = ev.GetSeq()

	var err error
	switch e := ev.(type) {
	case *event.ConfigEvent:
		err = c.handleConfig(e)
	case *event.BidRequestEvent:
		err = c.handleBidRequest(e)
	case *event.AllocationEvent:
		err = c.handleAllocation(e)
	case *event.StopEvent:
		err = c.handleStop(ctx, e)
	case *event.MalformedEvent:
		err = e.Err
	case *event.UnknownEvent:
		slog.Warn("Unknown command received", slog.String("topic", e.Topic))
	default:
		slog.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}

	switch {
	case err == nil:
	case domain.IsRecoverable(err):
		c.opts.Metrics.RecordDrop()
		slog.Warn("Message dropped",
			slog.String("topic", ev.GetTopic()),
			slog.String("state", string(c.state)),
			slog.Any("error", err))
	default:
		c.fail(err)
	}

	c.publishSnapshot()
	return err
}

func (c *Controller) fail(err error) {
	c.opts.Metrics.RecordFatal()
	if c.asset != nil {
		c.asset.MarkFailed()
	}
	slog.Error("Run halted", slog.String("from", string(c.state)), slog.Any("error", err))
	c.state = domain.StateError
}

func (c *Controller) handleConfig(e *event.ConfigEvent) error {
	if !c.state.AcceptsConfig() {
		return &domain.MessageError{
			Topic: e.Topic,
			Err:   fmt.Errorf("%w: config while %s", domain.ErrUnexpectedMessage, c.state),
		}
	}
	slog.Info("Received config message", slog.Uint64("seq", e.Seq))

	// A new configuration discards whatever an errored run left behind.
	c.asset, c.bidder, c.lastBid, c.lastAllocation = nil, nil, nil, nil

	if e.Err != nil {
		if domain.IsRecoverable(e.Err) {
			return &domain.ConfigError{Field: "payload", Err: e.Err}
		}
		return e.Err
	}
	if e.Setup == nil {
		return &domain.ConfigError{Field: "payload", Err: errors.New("empty configuration")}
	}
	if err := e.Setup.Asset.Limits.Validate(); err != nil {
		return err
	}
	if len(e.Setup.Carriers) == 0 {
		return &domain.ConfigError{Field: "carriers", Err: domain.ErrMissingAttribute}
	}

	c.state = domain.StateConfigured
	c.asset = domain.NewAssetState(e.Setup)
	c.bidder = c.opts.NewBidder(e.Setup)
	c.state = domain.StateAwaitingBidRequest

	slog.Info("Run configured",
		slog.String("simulation", e.Setup.SimulationID),
		slog.String("asset", e.Setup.Asset.ID),
		slog.Int("carriers", len(e.Setup.Carriers)),
		slog.Int("expected_steps", e.Setup.NumberOfSteps()),
		slog.Float64("soc", e.Setup.Asset.Limits.InitialSoC()))
	return nil
}

func (c *Controller) requireRun(topic string) error {
	switch c.state {
	case domain.StateAwaitingBidRequest, domain.StateAwaitingAllocation:
		return nil
	default:
		return &domain.MessageError{Topic: topic, Err: fmt.Errorf("%w (state %s)", domain.ErrNoActiveRun, c.state)}
	}
}

func (c *Controller) handleBidRequest(e *event.BidRequestEvent) error {
	if err := c.requireRun(e.Topic); err != nil {
		return err
	}
	if _, ok := c.asset.Setup.Carriers[e.CarrierID]; !ok {
		return &domain.MessageError{Topic: e.Topic, Err: fmt.Errorf("%w: %s", domain.ErrUnknownCarrier, e.CarrierID)}
	}

	step, err := c.asset.StepFor(e.Timestamp, e.Duration)
	if err != nil {
		return &domain.MessageError{Topic: e.Topic, Err: err}
	}
	if step != c.asset.CurrentStep() {
		return &domain.MessageError{
			Topic: e.Topic,
			Err:   fmt.Errorf("%w: bid request for step %d, current step is %d", domain.ErrStepOutOfOrder, step, c.asset.CurrentStep()),
		}
	}
	soc, _ := c.asset.SoC(step)

	curve, err := c.bidder.CreateBid(strategy.BidRequest{
		Step:            step,
		Timestamp:       e.Timestamp,
		DurationSeconds: e.Duration,
		MinPrice:        e.MinPrice,
		MaxPrice:        e.MaxPrice,
		SoC:             soc,
	})
	if err != nil {
		if errors.Is(err, domain.ErrArbitrage) {
			return &domain.ConfigError{Field: "marginalChargeCosts", Err: err}
		}
		return &domain.MessageError{Topic: e.Topic, Err: err}
	}

	rec := domain.BidRecord{
		Step:      step,
		Timestamp: e.Timestamp,
		Duration:  e.Duration,
		MinPrice:  e.MinPrice,
		MaxPrice:  e.MaxPrice,
		Curve:     curve,
	}
	if err := c.asset.StoreBid(e.CarrierID, rec); err != nil {
		return &domain.MessageError{Topic: e.Topic, Err: err}
	}

	topic := event.BidTopic(c.opts.BaseTopic, c.opts.NodeID, e.CarrierID)
	if c.opts.Publisher != nil {
		if err := c.opts.Publisher.Publish(topic, event.EncodeBid(e.Timestamp, curve)); err != nil {
			// The curve stays stored; a repeated request re-publishes it.
			slog.Error("Failed to publish bid", slog.String("topic", topic), slog.Any("error", err))
		} else {
			c.opts.Metrics.RecordBid()
		}
	}

	c.lastBid = &BidInfo{Carrier: e.CarrierID, Step: step, Timestamp: e.Timestamp, Curve: curve}
	c.state = domain.StateAwaitingAllocation

	slog.Debug("Bid sent",
		slog.String("carrier", e.CarrierID),
		slog.Int("step", step),
		slog.Float64("soc", soc),
		slog.Any("curve", curve))
	return nil
}

func (c *Controller) handleAllocation(e *event.AllocationEvent) error {
	if err := c.requireRun(e.Topic); err != nil {
		return err
	}
	if c.state != domain.StateAwaitingAllocation {
		return &domain.MessageError{Topic: e.Topic, Err: fmt.Errorf("%w: allocation while %s", domain.ErrUnexpectedMessage, c.state)}
	}

	step, err := c.asset.StepAt(e.Timestamp)
	if err != nil {
		return &domain.MessageError{Topic: e.Topic, Err: err}
	}
	if step != c.asset.CurrentStep() {
		return &domain.MessageError{
			Topic: e.Topic,
			Err:   fmt.Errorf("%w: allocation for step %d, current step is %d", domain.ErrStepOutOfOrder, step, c.asset.CurrentStep()),
		}
	}
	rec, ok := c.asset.Bid(e.CarrierID, step)
	if !ok {
		return &domain.MessageError{
			Topic: e.Topic,
			Err:   fmt.Errorf("%w: no bid for carrier %s at step %d", domain.ErrStepOutOfOrder, e.CarrierID, step),
		}
	}
	soc, _ := c.asset.SoC(step)

	energy, _, err := c.bidder.Allocate(rec, e.Price, soc)
	if err != nil {
		return &domain.ResolutionError{Step: step, Carrier: e.CarrierID, Price: e.Price, Err: err}
	}

	committed, err := c.asset.StoreAllocation(e.CarrierID, domain.Allocation{Step: step, Price: e.Price, Energy: energy})
	if err != nil {
		return &domain.MessageError{Topic: e.Topic, Err: err}
	}
	c.opts.Metrics.RecordAllocation()
	c.lastAllocation = &AllocationInfo{Carrier: e.CarrierID, Step: step, Price: e.Price, Energy: energy}

	if c.asset.HasPending() {
		c.state = domain.StateAwaitingAllocation
	} else {
		c.state = domain.StateAwaitingBidRequest
	}

	attrs := []any{
		slog.String("carrier", e.CarrierID),
		slog.Int("step", step),
		slog.Float64("price", e.Price),
		slog.Float64("energy", energy),
	}
	if committed {
		next, _ := c.asset.SoC(step + 1)
		attrs = append(attrs, slog.Float64("soc", next))
	}
	slog.Debug("Allocation processed", attrs...)
	return nil
}

func (c *Controller) handleStop(ctx context.Context, e *event.StopEvent) error {
	if c.state == domain.StateUninitialized {
		return &domain.MessageError{Topic: e.Topic, Err: domain.ErrNoActiveRun}
	}
	slog.Info("Received stop message", slog.String("carrier", e.CarrierID), slog.String("state", string(c.state)))

	c.state = domain.StateComplete
	c.publishSnapshot()

	if c.asset != nil {
		c.handOff(ctx, c.asset.Result())
	}

	c.asset, c.bidder, c.lastBid, c.lastAllocation = nil, nil, nil, nil
	c.state = domain.StateUninitialized
	c.opts.Metrics.RecordRunCompleted()
	return nil
}

// handOff passes a finished run to the recorder on its own goroutine so that
// slow result stores never stall the message loop.
func (c *Controller) handOff(ctx context.Context, result *domain.RunResult) {
	if c.opts.Recorder == nil {
		return
	}
	c.recording.Add(1)
	go func() {
		defer c.recording.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RecordTimeout)
		defer cancel()

		if err := c.opts.Recorder.Record(rctx, result); err != nil {
			c.opts.Metrics.RecordRecorderFailure()
			slog.Error("Failed to record run results",
				slog.String("simulation", result.Setup.SimulationID),
				slog.Any("error", err))
			return
		}
		slog.Info("Run results recorded",
			slog.String("simulation", result.Setup.SimulationID),
			slog.Int("steps", result.CommittedSteps()),
			slog.Bool("failed", result.Failed))
	}()
}

// WaitRecorded blocks until all result hand-offs have finished.
func (c *Controller) WaitRecorded() {
	c.recording.Wait()
}

// State returns the current protocol state (external read).
func (c *Controller) State() domain.ProtocolState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot.State
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (c *Controller) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		LastSeq  uint64            `json:"last_seq"`
		Snapshot Snapshot          `json:"snapshot"`
		Run      *domain.RunResult `json:"run,omitempty"`
	}{
		LastSeq:  c.lastSeq,
		Snapshot: c.buildSnapshot(),
	}
	if c.asset != nil {
		data.Run = c.asset.Result()
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
