// Package esdl reads the parts of an ESDL energy-system document that a
// battery node needs: the battery itself, its storage strategy and the
// carriers connected to its ports.
package esdl

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"essim_battery/internal/domain"
)

const xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"

// Node is a generic XMI element.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []*Node    `xml:",any"`
}

// Attr returns an unqualified attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name && a.Name.Space == "" {
			return a.Value, true
		}
	}
	return "", false
}

// Type returns the xsi:type of the element without its package prefix,
// e.g. "Battery" for "esdl:Battery".
func (n *Node) Type() string {
	for _, a := range n.Attrs {
		if a.Name.Local == "type" && (a.Name.Space == xsiNamespace || a.Name.Space == "xsi") {
			if i := strings.LastIndex(a.Value, ":"); i >= 0 {
				return a.Value[i+1:]
			}
			return a.Value
		}
	}
	return ""
}

// ID returns the id attribute.
func (n *Node) ID() string {
	id, _ := n.Attr("id")
	return id
}

// Child returns the first child element with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.XMLName.Local == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns all child elements with the given name.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.XMLName.Local == name {
			out = append(out, c)
		}
	}
	return out
}

// Float parses a numeric attribute; absent attributes yield def, matching
// EMF which omits values equal to the model default.
func (n *Node) Float(name string, def float64) (float64, error) {
	v, ok := n.Attr(name)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", name, err)
	}
	return f, nil
}

// Document is a parsed energy system with an id index.
type Document struct {
	root *Node
	byID map[string]*Node
}

// Parse decodes an ESDL (XMI) document.
func Parse(data []byte) (*Document, error) {
	var root Node
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&root); err != nil {
		return nil, &domain.ConfigError{Field: "esdlContents", Err: err}
	}
	if root.XMLName.Local != "EnergySystem" {
		return nil, &domain.ConfigError{Field: "esdlContents", Err: fmt.Errorf("root element %q is not an EnergySystem", root.XMLName.Local)}
	}

	d := &Document{root: &root, byID: make(map[string]*Node)}
	d.index(&root)
	return d, nil
}

func (d *Document) index(n *Node) {
	if id := n.ID(); id != "" {
		if _, dup := d.byID[id]; !dup {
			d.byID[id] = n
		}
	}
	for _, c := range n.Children {
		d.index(c)
	}
}

// ID is the energy system id.
func (d *Document) ID() string {
	return d.root.ID()
}

// Name is the energy system name.
func (d *Document) Name() string {
	name, _ := d.root.Attr("name")
	return name
}

// ByID looks up any element by id. References of the form "file.esdl#id" are
// resolved to their id part.
func (d *Document) ByID(ref string) *Node {
	if i := strings.LastIndex(ref, "#"); i >= 0 {
		ref = ref[i+1:]
	}
	return d.byID[strings.TrimSpace(ref)]
}

// Asset reads the battery with the given id.
func (d *Document) Asset(id string) (domain.Asset, error) {
	n := d.ByID(id)
	if n == nil || n.XMLName.Local != "asset" {
		return domain.Asset{}, &domain.ConfigError{Field: "asset", Err: fmt.Errorf("%w: no asset with id %s", domain.ErrMissingAttribute, id)}
	}
	if t := n.Type(); t != "Battery" {
		return domain.Asset{}, &domain.UnsupportedError{What: "asset", Type: t}
	}

	a := domain.Asset{ID: id}
	a.Name, _ = n.Attr("name")

	if _, ok := n.Attr("capacity"); !ok {
		return domain.Asset{}, &domain.ConfigError{Field: "capacity", Err: domain.ErrMissingAttribute}
	}

	var err error
	fields := []struct {
		name string
		dst  *float64
		def  float64
	}{
		{"capacity", &a.Limits.Capacity, 0},
		{"fillLevel", &a.Limits.FillLevel, 0},
		{"maxChargeRate", &a.Limits.MaxChargeRate, 0},
		{"maxDischargeRate", &a.Limits.MaxDischargeRate, 0},
		{"selfDischargeRate", &a.SelfDischargeRate, 0},
		{"chargeEfficiency", &a.ChargeEfficiency, 1},
		{"dischargeEfficiency", &a.DischargeEfficiency, 1},
	}
	for _, f := range fields {
		if *f.dst, err = n.Float(f.name, f.def); err != nil {
			return domain.Asset{}, &domain.ConfigError{Field: f.name, Err: err}
		}
	}

	ss := d.StorageStrategy(id)
	if ss == nil {
		return domain.Asset{}, &domain.ConfigError{Field: "marginalChargeCosts", Err: fmt.Errorf("%w: no StorageStrategy for asset %s", domain.ErrMissingAttribute, id)}
	}
	if a.Limits.MarginalChargeCost, err = marginalCost(ss, "marginalChargeCosts", "marginal charge cost"); err != nil {
		return domain.Asset{}, err
	}
	if a.Limits.MarginalDischargeCost, err = marginalCost(ss, "marginalDischargeCosts", "marginal discharge cost"); err != nil {
		return domain.Asset{}, err
	}
	return a, nil
}

func marginalCost(ss *Node, field, what string) (float64, error) {
	p := ss.Child(field)
	if p == nil {
		return 0, &domain.ConfigError{Field: field, Err: domain.ErrMissingAttribute}
	}
	if t := p.Type(); t != string(domain.ProfileSingleValue) {
		return 0, &domain.UnsupportedError{What: what, Type: t}
	}
	v, err := p.Float("value", 0)
	if err != nil {
		return 0, &domain.ConfigError{Field: field, Err: err}
	}
	return v, nil
}

// StorageStrategy returns the StorageStrategy service controlling assetID.
func (d *Document) StorageStrategy(assetID string) *Node {
	services := d.root.Child("services")
	if services == nil {
		return nil
	}
	for _, s := range services.ChildrenNamed("service") {
		if s.Type() != "StorageStrategy" {
			continue
		}
		if ref, ok := s.Attr("energyAsset"); ok && d.ByID(ref) != nil && d.ByID(ref).ID() == assetID {
			return s
		}
	}
	return nil
}

// Carriers returns one CarrierInfo per port of the asset, keyed by carrier id.
// InfluxDB cost profiles are returned unfetched, with their Source set.
func (d *Document) Carriers(assetID string) (map[string]domain.CarrierInfo, error) {
	asset := d.ByID(assetID)
	if asset == nil {
		return nil, &domain.ConfigError{Field: "asset", Err: fmt.Errorf("%w: no asset with id %s", domain.ErrMissingAttribute, assetID)}
	}

	out := make(map[string]domain.CarrierInfo)
	for _, port := range asset.ChildrenNamed("port") {
		ref, ok := port.Attr("carrier")
		if !ok {
			return nil, &domain.ConfigError{Field: "carrier", Err: fmt.Errorf("%w: port %s has no carrier", domain.ErrMissingAttribute, port.ID())}
		}
		carrier := d.ByID(ref)
		if carrier == nil {
			return nil, &domain.ConfigError{Field: "carrier", Err: fmt.Errorf("%w: %s", domain.ErrUnknownCarrier, ref)}
		}

		info := domain.CarrierInfo{
			ID:       carrier.ID(),
			Type:     carrier.Type(),
			PortID:   port.ID(),
			PortType: port.Type(),
		}
		info.Name, _ = carrier.Attr("name")

		if cost := carrier.Child("cost"); cost != nil {
			p, err := profile(cost, "carrier cost")
			if err != nil {
				return nil, err
			}
			info.Cost = p
		}
		out[info.ID] = info
	}
	return out, nil
}

func profile(n *Node, what string) (*domain.Profile, error) {
	switch t := domain.ProfileType(n.Type()); t {
	case domain.ProfileSingleValue:
		v, err := n.Float("value", 0)
		if err != nil {
			return nil, &domain.ConfigError{Field: what, Err: err}
		}
		return &domain.Profile{Type: t, Value: v}, nil

	case domain.ProfileInfluxDB:
		src := &domain.InfluxSource{}
		src.Host, _ = n.Attr("host")
		src.Database, _ = n.Attr("database")
		src.Measurement, _ = n.Attr("measurement")
		src.Field, _ = n.Attr("field")
		src.Filters, _ = n.Attr("filters")
		src.StartDate, _ = n.Attr("startDate")
		src.EndDate, _ = n.Attr("endDate")

		port, err := n.Float("port", 8086)
		if err != nil {
			return nil, &domain.ConfigError{Field: what, Err: err}
		}
		src.Port = int(port)
		if src.Multiplier, err = n.Float("multiplier", 1); err != nil {
			return nil, &domain.ConfigError{Field: what, Err: err}
		}
		if src.Measurement == "" || src.Field == "" {
			return nil, &domain.ConfigError{Field: what, Err: fmt.Errorf("%w: measurement and field", domain.ErrMissingAttribute)}
		}
		return &domain.Profile{Type: t, Source: src}, nil

	default:
		return nil, &domain.UnsupportedError{What: what, Type: string(t)}
	}
}
