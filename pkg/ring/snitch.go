package ring

import (
	"fmt"
	"strings"
)

// Application state keys consulted by the gossip snitch.
const (
	StateDatacenter = "DATACENTER"
	StateRack       = "RACK"
)

const (
	SnitchSimple   = "simple"
	SnitchProperty = "property"
	SnitchGossip   = "gossip"

	DefaultDatacenter = "datacenter1"
	DefaultRack       = "rack1"
)

// Liveness answers whether an endpoint is currently reachable.
type Liveness interface {
	IsAlive(ep EndPoint) bool
}

// LivenessFunc adapts a function to Liveness.
type LivenessFunc func(ep EndPoint) bool

func (f LivenessFunc) IsAlive(ep EndPoint) bool { return f(ep) }

// Snitch classifies endpoints by locality.
type Snitch interface {
	Datacenter(ep EndPoint) string
	Rack(ep EndPoint) string
}

// Location is the datacenter and rack of one host.
type Location struct {
	Datacenter string `json:"datacenter" yaml:"datacenter"`
	Rack       string `json:"rack" yaml:"rack"`
}

// StateReader exposes gossip application state of remote endpoints.
type StateReader interface {
	ApplicationStateValue(ep EndPoint, key string) (string, bool)
}

// SnitchParams configures NewSnitch.
type SnitchParams struct {
	Topology map[string]Location
	Default  Location
	States   StateReader
}

// NewSnitch returns the snitch registered under name. An empty name selects simple.
func NewSnitch(name string, p SnitchParams) (Snitch, error) {
	switch strings.ToLower(name) {
	case "", SnitchSimple:
		return SimpleSnitch{}, nil
	case SnitchProperty:
		return NewPropertySnitch(p.Topology, p.Default), nil
	case SnitchGossip:
		if p.States == nil {
			return nil, fmt.Errorf("gossip snitch requires a state reader")
		}
		return &GossipSnitch{states: p.States, fallback: NewPropertySnitch(p.Topology, p.Default)}, nil
	default:
		return nil, fmt.Errorf("unknown snitch %q", name)
	}
}

// InSameDatacenter reports whether a and b share a datacenter.
func InSameDatacenter(s Snitch, a, b EndPoint) bool {
	return s.Datacenter(a) == s.Datacenter(b)
}

// OnSameRack reports whether a and b share a datacenter and a rack.
func OnSameRack(s Snitch, a, b EndPoint) bool {
	return InSameDatacenter(s, a, b) && s.Rack(a) == s.Rack(b)
}

// SimpleSnitch places every endpoint in one datacenter and rack.
type SimpleSnitch struct{}

func (SimpleSnitch) Datacenter(EndPoint) string { return DefaultDatacenter }
func (SimpleSnitch) Rack(EndPoint) string       { return DefaultRack }

// PropertySnitch reads locality from a static host table.
type PropertySnitch struct {
	topology map[string]Location
	def      Location
}

// NewPropertySnitch builds a snitch over topology; unknown hosts get def.
func NewPropertySnitch(topology map[string]Location, def Location) *PropertySnitch {
	if def.Datacenter == "" {
		def.Datacenter = DefaultDatacenter
	}
	if def.Rack == "" {
		def.Rack = DefaultRack
	}
	t := make(map[string]Location, len(topology))
	for host, loc := range topology {
		t[host] = loc
	}
	return &PropertySnitch{topology: t, def: def}
}

func (p *PropertySnitch) Datacenter(ep EndPoint) string {
	if loc, ok := p.topology[ep.Host]; ok && loc.Datacenter != "" {
		return loc.Datacenter
	}
	return p.def.Datacenter
}

func (p *PropertySnitch) Rack(ep EndPoint) string {
	if loc, ok := p.topology[ep.Host]; ok && loc.Rack != "" {
		return loc.Rack
	}
	return p.def.Rack
}

// GossipSnitch reads locality published by each node, falling back to a static table.
type GossipSnitch struct {
	states   StateReader
	fallback *PropertySnitch
}

func (g *GossipSnitch) Datacenter(ep EndPoint) string {
	if v, ok := g.states.ApplicationStateValue(ep, StateDatacenter); ok && v != "" {
		return v
	}
	return g.fallback.Datacenter(ep)
}

func (g *GossipSnitch) Rack(ep EndPoint) string {
	if v, ok := g.states.ApplicationStateValue(ep, StateRack); ok && v != "" {
		return v
	}
	return g.fallback.Rack(ep)
}
