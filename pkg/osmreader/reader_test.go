package osmreader

import "testing"

type countingSink struct {
	nodes, ways, relations int
}

func (s *countingSink) Node(e Element) error {
	s.nodes++
	return nil
}

func (s *countingSink) Way(e Element) error {
	s.ways++
	return nil
}

func (s *countingSink) Relation(e Element) error {
	s.relations++
	return nil
}

func TestCountingSinkTallies(t *testing.T) {
	s := &countingSink{}
	if err := s.Node(Element{Kind: KindNode}); err != nil {
		t.Fatalf("Node() error = %v", err)
	}
	if err := s.Way(Element{Kind: KindWay}); err != nil {
		t.Fatalf("Way() error = %v", err)
	}
	if err := s.Relation(Element{Kind: KindRelation}); err != nil {
		t.Fatalf("Relation() error = %v", err)
	}
	if s.nodes != 1 || s.ways != 1 || s.relations != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", s.nodes, s.ways, s.relations)
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		want string
	}{
		{"node", KindNode, "node"},
		{"way", KindWay, "way"},
		{"relation", KindRelation, "relation"},
		{"unknown", Kind(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestTagsJSONEmptyTags(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]string
		want int
	}{
		{"nil tags", nil, 0},
		{"empty tags", map[string]string{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tagsJSON(tt.in); got != "" {
				t.Errorf("tagsJSON(%v) = %q, want empty", tt.in, got)
			}
		})
	}
}
