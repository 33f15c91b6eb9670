package event

import (
	"essim_battery/internal/domain"
)

// Type identifies the kind of an inbound message.
type Type string

const (
	TypeConfig     Type = "CONFIG"
	TypeBidRequest Type = "BID_REQUEST"
	TypeAllocation Type = "ALLOCATION"
	TypeStop       Type = "STOP"
	TypeUnknown    Type = "UNKNOWN"
	TypeMalformed  Type = "MALFORMED"
)

// Event is one decoded inbound message. Exactly one concrete type exists per
// message kind; the Controller dispatches on it with a type switch.
type Event interface {
	GetSeq() uint64
	GetType() Type
	GetTopic() string
}

// BaseEvent carries the fields common to all events.
type BaseEvent struct {
	Seq   uint64 `json:"seq"`
	Ts    int64  `json:"ts"` // receive time, unix millis
	Topic string `json:"topic"`
}

func (e BaseEvent) GetSeq() uint64   { return e.Seq }
func (e BaseEvent) GetTopic() string { return e.Topic }

// ConfigEvent starts a run. Err is set when the configuration could not be
// resolved; the run then goes to ERROR.
type ConfigEvent struct {
	BaseEvent
	Setup *domain.RunSetup
	Err   error
}

func (e *ConfigEvent) GetType() Type { return TypeConfig }

// BidRequestEvent asks for a bid curve for one carrier and step.
type BidRequestEvent struct {
	BaseEvent
	Timestamp int64   `json:"timeStamp"`
	MinPrice  float64 `json:"minPrice"`
	MaxPrice  float64 `json:"maxPrice"`
	Duration  int64   `json:"timeStepInSeconds"`
	CarrierID string  `json:"carrierId"`
}

func (e *BidRequestEvent) GetType() Type { return TypeBidRequest }

// AllocationEvent carries the clearing price for an earlier bid.
type AllocationEvent struct {
	BaseEvent
	Timestamp int64   `json:"timeStamp"`
	Price     float64 `json:"price"`
	CarrierID string  `json:"carrierId"`
}

func (e *AllocationEvent) GetType() Type { return TypeAllocation }

// StopEvent ends the run.
type StopEvent struct {
	BaseEvent
	CarrierID string `json:"carrierId"`
}

func (e *StopEvent) GetType() Type { return TypeStop }

// UnknownEvent is a message on a topic this node does not handle.
type UnknownEvent struct {
	BaseEvent
}

func (e *UnknownEvent) GetType() Type { return TypeUnknown }

// MalformedEvent is a bid, allocation or stop message whose payload could not
// be decoded. Kind is the message kind the topic announced.
type MalformedEvent struct {
	BaseEvent
	Kind Type
	Err  error
}

func (e *MalformedEvent) GetType() Type { return TypeMalformed }
