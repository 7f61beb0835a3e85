package graph

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	graphMLNamespace = "http://graphml.graphdrawing.org/xmlns"

	// Key ids TinkerPop's GraphML reader treats as element labels
	vertexLabelKey = "labelV"
	edgeLabelKey   = "labelE"

	// TaskIDProperty scopes every vertex and edge to its task
	TaskIDProperty = "task_id"

	// DefaultVertexLabel is used for vertices without a node kind fact
	DefaultVertexLabel = "vname"

	nodeKindFact = "/kythe/node/kind"
	textFact     = "/kythe/text"
	codeFact     = "/kythe/code"
	kythePrefix  = "/kythe/"
	edgePrefix   = "/kythe/edge/"
)

// ErrEmptyGraph is returned when a binary index holds no entries
var ErrEmptyGraph = errors.New("binary index contains no entries")

// Stats summarises one conversion
type Stats struct {
	Entries  int
	Vertices int
	Edges    int
	Skipped  int
}

// GraphMLPath is the stage 3 artifact path for a run
func GraphMLPath(dir, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("kythe_output_graphml_%s.xml", runID))
}

type vertex struct {
	id    int
	name  VName
	props map[string]string
}

type edgeKey struct {
	source, target int
	kind           string
}

type edge struct {
	id    int
	key   edgeKey
	props map[string]string
}

// Storage accumulates Kythe entries for one task and serialises them as GraphML
type Storage struct {
	TaskID string

	vertices map[VName]*vertex
	order    []*vertex
	edges    map[edgeKey]*edge
	edgeList []*edge
	stats    Stats
}

// NewStorage creates an empty graph for taskID
func NewStorage(taskID string) *Storage {
	return &Storage{
		TaskID:   taskID,
		vertices: make(map[VName]*vertex),
		edges:    make(map[edgeKey]*edge),
	}
}

func (s *Storage) vertexFor(name VName) *vertex {
	if v, ok := s.vertices[name]; ok {
		return v
	}
	v := &vertex{id: len(s.order) + 1, name: name, props: make(map[string]string)}
	s.vertices[name] = v
	s.order = append(s.order, v)
	return v
}

// Add folds one entry into the graph
func (s *Storage) Add(e *Entry) {
	s.stats.Entries++

	if !e.IsEdge() {
		if droppedFact(e.FactName) {
			s.stats.Skipped++
			return
		}
		v := s.vertexFor(e.Source)
		v.props[propertyName(e.FactName)] = string(e.FactValue)
		return
	}

	src := s.vertexFor(e.Source)
	tgt := s.vertexFor(e.Target)
	k := edgeKey{source: src.id, target: tgt.id, kind: edgeLabel(e.EdgeKind)}
	ed, ok := s.edges[k]
	if !ok {
		ed = &edge{id: len(s.edgeList) + 1, key: k, props: make(map[string]string)}
		s.edges[k] = ed
		s.edgeList = append(s.edgeList, ed)
	}
	if e.FactName != "" && e.FactName != EdgeFactName {
		ed.props[propertyName(e.FactName)] = string(e.FactValue)
	}
}

// ProcessStream reads a binary index from r and writes the GraphML document to w
func (s *Storage) ProcessStream(r io.Reader, w io.Writer) (*Stats, error) {
	er := NewEntryReader(r)
	for {
		e, err := er.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", s.stats.Entries+1, err)
		}
		s.Add(e)
	}
	if s.stats.Entries == 0 {
		return nil, ErrEmptyGraph
	}

	if err := s.WriteTo(w); err != nil {
		return nil, err
	}

	stats := s.stats
	stats.Vertices = len(s.order)
	stats.Edges = len(s.edgeList)
	return &stats, nil
}

type xmlKey struct {
	XMLName  xml.Name `xml:"key"`
	ID       string   `xml:"id,attr"`
	For      string   `xml:"for,attr"`
	AttrName string   `xml:"attr.name,attr"`
	AttrType string   `xml:"attr.type,attr"`
}

type xmlData struct {
	XMLName xml.Name `xml:"data"`
	Key     string   `xml:"key,attr"`
	Value   string   `xml:",chardata"`
}

type xmlNode struct {
	XMLName xml.Name  `xml:"node"`
	ID      string    `xml:"id,attr"`
	Data    []xmlData `xml:"data"`
}

type xmlEdge struct {
	XMLName xml.Name  `xml:"edge"`
	ID      string    `xml:"id,attr"`
	Source  string    `xml:"source,attr"`
	Target  string    `xml:"target,attr"`
	Data    []xmlData `xml:"data"`
}

func nodeKeyID(name string) string { return "v_" + name }
func edgeKeyID(name string) string { return "e_" + name }

// vertexProperties flattens the VName and facts of v into property pairs
func (s *Storage) vertexProperties(v *vertex) map[string]string {
	props := map[string]string{TaskIDProperty: s.TaskID}
	for _, kv := range [][2]string{
		{"signature", v.name.Signature},
		{"corpus", v.name.Corpus},
		{"root", v.name.Root},
		{"path", v.name.Path},
		{"language", v.name.Language},
	} {
		if kv[1] != "" {
			props[kv[0]] = kv[1]
		}
	}
	for k, val := range v.props {
		props[k] = val
	}
	return props
}

// WriteTo serialises the accumulated graph
func (s *Storage) WriteTo(w io.Writer) error {
	nodeKeys := map[string]bool{}
	nodes := make([]xmlNode, 0, len(s.order))
	for _, v := range s.order {
		props := s.vertexProperties(v)
		label := props[propertyName(nodeKindFact)]
		if label == "" {
			label = DefaultVertexLabel
		}
		n := xmlNode{ID: strconv.Itoa(v.id)}
		n.Data = append(n.Data, xmlData{Key: vertexLabelKey, Value: label})
		for _, name := range sortedKeys(props) {
			nodeKeys[name] = true
			n.Data = append(n.Data, xmlData{Key: nodeKeyID(name), Value: props[name]})
		}
		nodes = append(nodes, n)
	}

	edgeKeys := map[string]bool{TaskIDProperty: true}
	edges := make([]xmlEdge, 0, len(s.edgeList))
	for _, ed := range s.edgeList {
		props := map[string]string{TaskIDProperty: s.TaskID}
		for k, val := range ed.props {
			props[k] = val
		}
		x := xmlEdge{
			ID:     "e" + strconv.Itoa(ed.id),
			Source: strconv.Itoa(ed.key.source),
			Target: strconv.Itoa(ed.key.target),
		}
		x.Data = append(x.Data, xmlData{Key: edgeLabelKey, Value: ed.key.kind})
		for _, name := range sortedKeys(props) {
			edgeKeys[name] = true
			x.Data = append(x.Data, xmlData{Key: edgeKeyID(name), Value: props[name]})
		}
		edges = append(edges, x)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")

	root := xml.StartElement{
		Name: xml.Name{Local: "graphml"},
		Attr: []xml.Attr{{Name: xml.Name{Local: "xmlns"}, Value: graphMLNamespace}},
	}
	if err := enc.EncodeToken(root); err != nil {
		return err
	}

	keys := []xmlKey{
		{ID: vertexLabelKey, For: "node", AttrName: vertexLabelKey, AttrType: "string"},
		{ID: edgeLabelKey, For: "edge", AttrName: edgeLabelKey, AttrType: "string"},
	}
	for _, name := range sortedKeys(nodeKeys) {
		keys = append(keys, xmlKey{ID: nodeKeyID(name), For: "node", AttrName: name, AttrType: "string"})
	}
	for _, name := range sortedKeys(edgeKeys) {
		keys = append(keys, xmlKey{ID: edgeKeyID(name), For: "edge", AttrName: name, AttrType: "string"})
	}
	for _, k := range keys {
		if err := enc.Encode(k); err != nil {
			return fmt.Errorf("failed to encode key %s: %w", k.ID, err)
		}
	}

	graph := xml.StartElement{
		Name: xml.Name{Local: "graph"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "id"}, Value: "G"},
			{Name: xml.Name{Local: "edgedefault"}, Value: "directed"},
		},
	}
	if err := enc.EncodeToken(graph); err != nil {
		return err
	}
	for _, n := range nodes {
		if err := enc.Encode(n); err != nil {
			return fmt.Errorf("failed to encode node %s: %w", n.ID, err)
		}
	}
	for _, e := range edges {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode edge %s: %w", e.ID, err)
		}
	}
	if err := enc.EncodeToken(graph.End()); err != nil {
		return err
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteGraphML converts binFile into a GraphML document at graphmlFile.
// The index is read into memory first. On failure graphmlFile is removed.
func WriteGraphML(ctx context.Context, taskID, binFile, graphmlFile string) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(binFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read binary index: %w", err)
	}

	out, err := os.Create(graphmlFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create graphml file: %w", err)
	}

	stats, err := NewStorage(taskID).ProcessStream(bytes.NewReader(data), out)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close graphml file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(graphmlFile)
		return nil, err
	}
	return stats, nil
}

// droppedFact reports facts that carry file contents or serialized protos
func droppedFact(name string) bool {
	for _, f := range []string{textFact, codeFact} {
		if name == f || strings.HasPrefix(name, f+"/") {
			return true
		}
	}
	return false
}

// propertyName maps a Kythe fact name to a graph property key:
// "/kythe/node/kind" becomes "node_kind", "/kythe/loc/start" becomes "loc_start".
func propertyName(fact string) string {
	name := strings.TrimPrefix(fact, kythePrefix)
	name = strings.Trim(name, "/")
	if name == "" {
		return "fact"
	}
	return strings.ReplaceAll(name, "/", "_")
}

// edgeLabel strips the Kythe edge prefix: "/kythe/edge/ref" becomes "ref"
func edgeLabel(kind string) string {
	if l := strings.TrimPrefix(kind, edgePrefix); l != "" {
		return l
	}
	return kind
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
