// Package osmreader decodes an OSM PBF extract into the flat element rows
// the conversion pipeline's prefilter stage operates on. Unlike a routing
// graph builder, it keeps every node, way, and relation — filtering by tag,
// geometry, or id happens entirely downstream in SQL.
package osmreader

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
)

// Kind discriminates the three OSM element types.
type Kind uint8

const (
	KindNode Kind = iota
	KindWay
	KindRelation
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	default:
		return "unknown"
	}
}

// Element is one decoded OSM node, way, or relation. Fields not relevant to
// Kind are left zero.
type Element struct {
	Kind Kind
	ID   int64
	Tags map[string]string

	// Node fields.
	Lat, Lon float64

	// Way fields.
	Refs []int64

	// Relation fields.
	MemberTypes []Kind
	MemberRefs  []int64
	MemberRoles []string
}

// Sink receives decoded elements as the PBF file is scanned. Implementations
// typically buffer rows and flush them to parquet in batches.
type Sink interface {
	Node(e Element) error
	Way(e Element) error
	Relation(e Element) error
}

// ReadOptions configures the scan.
type ReadOptions struct {
	// Concurrency controls how many goroutines osmpbf uses to decode
	// parallel protobuf blobs. Zero or a negative value means a single
	// decoding goroutine.
	Concurrency int
}

// Read performs a single forward pass over rs, decoding every node, way,
// and relation and delivering each to sink. It mirrors the two-phase
// osmpbf.Scanner usage from the teacher's PBF parser, but keeps all three
// element kinds (a routing graph only needs ways and the nodes they
// reference) and in one pass rather than two, since nothing here needs
// whole-file knowledge before it can start emitting.
func Read(ctx context.Context, rs io.ReadSeeker, sink Sink, opts ...ReadOptions) error {
	var opt ReadOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	concurrency := opt.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	scanner := osmpbf.New(ctx, rs, concurrency)
	defer scanner.Close()

	var nodes, ways, relations int
	for scanner.Scan() {
		switch v := scanner.Object().(type) {
		case *osm.Node:
			nodes++
			if err := sink.Node(nodeElement(v)); err != nil {
				return fmt.Errorf("sink node %d: %w", v.ID, err)
			}
		case *osm.Way:
			ways++
			if err := sink.Way(wayElement(v)); err != nil {
				return fmt.Errorf("sink way %d: %w", v.ID, err)
			}
		case *osm.Relation:
			relations++
			if err := sink.Relation(relationElement(v)); err != nil {
				return fmt.Errorf("sink relation %d: %w", v.ID, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan pbf: %w", err)
	}

	log.Printf("osmreader: decoded %d nodes, %d ways, %d relations", nodes, ways, relations)
	return nil
}

func tagsToMap(tags osm.Tags) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[t.Key] = t.Value
	}
	return m
}

func nodeElement(n *osm.Node) Element {
	return Element{
		Kind: KindNode,
		ID:   int64(n.ID),
		Tags: tagsToMap(n.Tags),
		Lat:  n.Lat,
		Lon:  n.Lon,
	}
}

func wayElement(w *osm.Way) Element {
	refs := make([]int64, len(w.Nodes))
	for i, n := range w.Nodes {
		refs[i] = int64(n.ID)
	}
	return Element{
		Kind: KindWay,
		ID:   int64(w.ID),
		Tags: tagsToMap(w.Tags),
		Refs: refs,
	}
}

func relationElement(r *osm.Relation) Element {
	memberTypes := make([]Kind, len(r.Members))
	memberRefs := make([]int64, len(r.Members))
	memberRoles := make([]string, len(r.Members))
	for i, m := range r.Members {
		memberRefs[i] = m.Ref
		memberRoles[i] = m.Role
		switch m.Type {
		case osm.TypeNode:
			memberTypes[i] = KindNode
		case osm.TypeWay:
			memberTypes[i] = KindWay
		case osm.TypeRelation:
			memberTypes[i] = KindRelation
		}
	}
	return Element{
		Kind:        KindRelation,
		ID:          int64(r.ID),
		Tags:        tagsToMap(r.Tags),
		MemberTypes: memberTypes,
		MemberRefs:  memberRefs,
		MemberRoles: memberRoles,
	}
}
