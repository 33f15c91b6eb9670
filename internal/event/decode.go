package event

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"essim_battery/internal/domain"
)

// Topic suffixes handled by the node.
const (
	SuffixConfig    = "/config"
	SuffixCreateBid = "/createBid"
	SuffixAllocate  = "/allocate"
	SuffixStop      = "/stop"
)

// ModelLoader resolves an energy-system document into the asset this node
// controls. Implementations may block on profile retrieval.
type ModelLoader interface {
	Load(ctx context.Context, doc []byte, start, end time.Time) (*domain.EnergySystem, error)
}

// Decoder turns raw transport messages into events. It runs on the transport
// goroutine so that blocking model loading finishes before the event reaches
// the Controller.
type Decoder struct {
	loader       ModelLoader
	simulationID string
	seq          atomic.Uint64
}

// NewDecoder creates a decoder. simulationID is used when a config message
// does not carry one.
func NewDecoder(loader ModelLoader, simulationID string) *Decoder {
	return &Decoder{loader: loader, simulationID: simulationID}
}

// Decode classifies a message by topic suffix and decodes its payload.
// It never returns nil.
func (d *Decoder) Decode(ctx context.Context, topic string, payload []byte) Event {
	base := BaseEvent{Seq: d.seq.Add(1), Ts: time.Now().UnixMilli(), Topic: topic}

	switch {
	case strings.HasSuffix(topic, SuffixConfig):
		setup, err := d.decodeConfig(ctx, payload)
		return &ConfigEvent{BaseEvent: base, Setup: setup, Err: err}

	case strings.HasSuffix(topic, SuffixCreateBid):
		ev := &BidRequestEvent{BaseEvent: base}
		if err := decodeBidRequest(payload, ev); err != nil {
			return malformed(base, TypeBidRequest, err)
		}
		return ev

	case strings.HasSuffix(topic, SuffixAllocate):
		ev := &AllocationEvent{BaseEvent: base}
		if err := decodeAllocation(payload, ev); err != nil {
			return malformed(base, TypeAllocation, err)
		}
		return ev

	case strings.HasSuffix(topic, SuffixStop):
		var p struct {
			CarrierID string `json:"carrierId"`
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				return malformed(base, TypeStop, err)
			}
		}
		return &StopEvent{BaseEvent: base, CarrierID: p.CarrierID}
	}

	return &UnknownEvent{BaseEvent: base}
}

func malformed(base BaseEvent, kind Type, err error) *MalformedEvent {
	return &MalformedEvent{
		BaseEvent: base,
		Kind:      kind,
		Err:       &domain.MessageError{Topic: base.Topic, Err: err},
	}
}

type bidRequestPayload struct {
	TimeStamp         *int64   `json:"timeStamp"`
	MinPrice          *float64 `json:"minPrice"`
	MaxPrice          *float64 `json:"maxPrice"`
	TimeStepInSeconds *int64   `json:"timeStepInSeconds"`
	CarrierID         string   `json:"carrierId"`
}

func decodeBidRequest(payload []byte, ev *BidRequestEvent) error {
	var p bidRequestPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	switch {
	case p.TimeStamp == nil:
		return missing("timeStamp")
	case p.MinPrice == nil:
		return missing("minPrice")
	case p.MaxPrice == nil:
		return missing("maxPrice")
	case p.TimeStepInSeconds == nil:
		return missing("timeStepInSeconds")
	case p.CarrierID == "":
		return missing("carrierId")
	}
	if *p.TimeStepInSeconds <= 0 {
		return fmt.Errorf("timeStepInSeconds must be > 0, got %d", *p.TimeStepInSeconds)
	}
	if *p.MaxPrice < *p.MinPrice {
		return fmt.Errorf("%w: minPrice %g > maxPrice %g", domain.ErrPriceOutOfDomain, *p.MinPrice, *p.MaxPrice)
	}
	ev.Timestamp = *p.TimeStamp
	ev.MinPrice = *p.MinPrice
	ev.MaxPrice = *p.MaxPrice
	ev.Duration = *p.TimeStepInSeconds
	ev.CarrierID = p.CarrierID
	return nil
}

type allocationPayload struct {
	TimeStamp *int64   `json:"timeStamp"`
	Price     *float64 `json:"price"`
	CarrierID string   `json:"carrierId"`
}

func decodeAllocation(payload []byte, ev *AllocationEvent) error {
	var p allocationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	switch {
	case p.TimeStamp == nil:
		return missing("timeStamp")
	case p.Price == nil:
		return missing("price")
	case p.CarrierID == "":
		return missing("carrierId")
	}
	ev.Timestamp = *p.TimeStamp
	ev.Price = *p.Price
	ev.CarrierID = p.CarrierID
	return nil
}

func missing(field string) error {
	return fmt.Errorf("%w: %s", domain.ErrMissingAttribute, field)
}

func (d *Decoder) decodeConfig(ctx context.Context, payload []byte) (*domain.RunSetup, error) {
	var p ConfigPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, &domain.ConfigError{Field: "payload", Err: err}
	}
	if p.ESDLContents == "" {
		return nil, &domain.ConfigError{Field: "esdlContents", Err: domain.ErrMissingAttribute}
	}
	doc, err := base64.StdEncoding.DecodeString(p.ESDLContents)
	if err != nil {
		return nil, &domain.ConfigError{Field: "esdlContents", Err: err}
	}

	start, end, err := p.Config.Dates()
	if err != nil {
		return nil, err
	}
	charge, err := p.Config.ChargeWindows()
	if err != nil {
		return nil, err
	}
	discharge, err := p.Config.DischargeWindows()
	if err != nil {
		return nil, err
	}

	if d.loader == nil {
		return nil, errors.New("no model loader configured")
	}
	es, err := d.loader.Load(ctx, doc, start, end)
	if err != nil {
		return nil, fmt.Errorf("load energy system: %w", err)
	}

	setup := &domain.RunSetup{
		SimulationID:     p.SimulationID,
		ScenarioID:       p.Config.ScenarioID,
		EnergySystemID:   es.ID,
		InfluxURL:        p.Config.InfluxURL,
		Start:            start,
		End:              end,
		Asset:            es.Asset,
		Carriers:         es.Carriers,
		ChargeWindows:    charge,
		DischargeWindows: discharge,
	}
	if setup.SimulationID == "" {
		setup.SimulationID = d.simulationID
	}
	if setup.ScenarioID == "" {
		setup.ScenarioID = es.ID
	}
	return setup, nil
}
