package event

import (
	"encoding/binary"
	"fmt"
	"math"

	"essim_battery/internal/domain"
)

// SubscribeTopic is the wildcard topic a node listens on.
func SubscribeTopic(base, nodeID string) string {
	return fmt.Sprintf("%s/node/%s/#", base, nodeID)
}

// BidTopic is the topic a bid for carrierID is published on.
func BidTopic(base, nodeID, carrierID string) string {
	return fmt.Sprintf("%s/simulation/%s/%s/bid", base, nodeID, carrierID)
}

// EncodeBid serializes a bid: a big-endian int64 timestamp followed by one
// big-endian (price, energy) float64 pair per curve point.
func EncodeBid(timestamp int64, curve domain.BidCurve) []byte {
	buf := make([]byte, 8+16*len(curve))
	binary.BigEndian.PutUint64(buf, uint64(timestamp))
	off := 8
	for _, p := range curve {
		binary.BigEndian.PutUint64(buf[off:], math.Float64bits(p.Price))
		binary.BigEndian.PutUint64(buf[off+8:], math.Float64bits(p.Energy))
		off += 16
	}
	return buf
}

// DecodeBid is the inverse of EncodeBid.
func DecodeBid(b []byte) (int64, domain.BidCurve, error) {
	if len(b) < 8 || (len(b)-8)%16 != 0 {
		return 0, nil, fmt.Errorf("invalid bid payload length %d", len(b))
	}
	ts := int64(binary.BigEndian.Uint64(b))
	curve := make(domain.BidCurve, 0, (len(b)-8)/16)
	for off := 8; off < len(b); off += 16 {
		curve = append(curve, domain.PricePoint{
			Price:  math.Float64frombits(binary.BigEndian.Uint64(b[off:])),
			Energy: math.Float64frombits(binary.BigEndian.Uint64(b[off+8:])),
		})
	}
	return ts, curve, nil
}
