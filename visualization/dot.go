// Package visualization renders motus state machines as Graphviz DOT and
// SVG documents.
package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/anggasct/motus"
)

// DOTGenerator generates Graphviz DOT format representations of state
// machines
type DOTGenerator struct {
	machine *motus.StateMachine
	options DOTOptions
}

// DOTOptions configures the DOT generation
type DOTOptions struct {
	ShowConditions bool
	ShowActions    bool
	RankDirection  string // "TB", "LR", "BT", "RL"
	NodeShape      string
	// RecentWindow highlights edges that fired within this span of now;
	// zero disables the highlight
	RecentWindow time.Duration
}

// DefaultDOTOptions returns sensible default options for DOT generation
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		ShowConditions: true,
		ShowActions:    true,
		RankDirection:  "TB",
		NodeShape:      "box",
		RecentWindow:   2 * time.Second,
	}
}

// NewDOTGenerator creates a new DOT generator for the given machine
func NewDOTGenerator(machine *motus.StateMachine, options ...DOTOptions) *DOTGenerator {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	return &DOTGenerator{
		machine: machine,
		options: opts,
	}
}

// Generate creates a DOT representation of the state machine
func (g *DOTGenerator) Generate() string {
	var dot strings.Builder

	dot.WriteString("digraph StateMachine {\n")
	dot.WriteString(fmt.Sprintf("  rankdir=%s;\n", g.options.RankDirection))
	dot.WriteString(fmt.Sprintf("  node [shape=%s];\n", g.options.NodeShape))
	dot.WriteString("  edge [fontsize=10];\n\n")

	g.generateStates(&dot)
	g.generateTransitions(&dot)

	dot.WriteString("}\n")

	return dot.String()
}

// generateStates generates DOT nodes for all states
func (g *DOTGenerator) generateStates(dot *strings.Builder) {
	initial := g.machine.InitialState()
	current := g.machine.CurrentState()

	dot.WriteString("  // States\n")

	for _, s := range g.machine.States() {
		label := s.Name()
		if label == "" {
			label = fmt.Sprintf("state %d", s.ID())
		}
		fillColor := "lightblue"
		if s == initial {
			fillColor = "lightgreen"
			label += "\\n(initial)"
		}
		extra := ""
		if current != nil && s == current {
			fillColor = "gold"
			extra = " penwidth=2"
		}
		dot.WriteString(fmt.Sprintf("  \"s%d\" [style=\"filled\" fillcolor=%s label=\"%s\"%s];\n",
			s.ID(), fillColor, escapeLabel(label), extra))
	}
}

// generateTransitions generates DOT edges for all transitions, labeled with
// their triggers. Edges that fired within RecentWindow of now are drawn
// highlighted.
func (g *DOTGenerator) generateTransitions(dot *strings.Builder) {
	dot.WriteString("\n  // Transitions\n")

	for _, t := range g.machine.Transitions() {
		attrs := ""
		if label := g.edgeLabel(t); label != "" {
			attrs = fmt.Sprintf(" [label=\"%s\"]", escapeLabel(label))
		}
		if g.options.RecentWindow > 0 && !t.LastFiredAt().IsZero() &&
			time.Since(t.LastFiredAt()) <= g.options.RecentWindow {
			if attrs == "" {
				attrs = " [color=red penwidth=2]"
			} else {
				attrs = strings.TrimSuffix(attrs, "]") + " color=red penwidth=2]"
			}
		}
		dot.WriteString(fmt.Sprintf("  \"s%d\" -> \"s%d\"%s;\n",
			t.Source().ID(), t.Target().ID(), attrs))
	}
}

// edgeLabel renders a transition's trigger, condition, and action
func (g *DOTGenerator) edgeLabel(t *motus.Transition) string {
	var parts []string

	min, hasMin := t.MinDelay()
	max, hasMax := t.MaxDelay()
	switch {
	case hasMin && hasMax && min == max:
		parts = append(parts, formatSeconds(min))
	case hasMin && hasMax:
		parts = append(parts, formatSeconds(min)+".."+formatSeconds(max))
	case hasMin:
		parts = append(parts, formatSeconds(min)+"+")
	case hasMax:
		parts = append(parts, "<="+formatSeconds(max))
	}
	if msg, ok := t.Message(); ok {
		parts = append(parts, "'"+msg+"'")
	}
	if g.options.ShowConditions && t.HasCondition() {
		name := t.ConditionName()
		if name == "" {
			name = "cond"
		}
		parts = append(parts, "["+name+"]")
	}
	if g.options.ShowActions && t.HasAction() {
		name := t.ActionName()
		if name == "" {
			name = "action"
		}
		parts = append(parts, "/ "+name)
	}
	return strings.Join(parts, " ")
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64) + "s"
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// GenerateToFile writes the DOT representation to a file
func (g *DOTGenerator) GenerateToFile(filename string) error {
	return os.WriteFile(filename, []byte(g.Generate()), 0644)
}

// SVGGenerator generates SVG representations by calling Graphviz
type SVGGenerator struct {
	dotGenerator *DOTGenerator
}

// NewSVGGenerator creates a new SVG generator
func NewSVGGenerator(machine *motus.StateMachine, options ...DOTOptions) *SVGGenerator {
	return &SVGGenerator{
		dotGenerator: NewDOTGenerator(machine, options...),
	}
}

// Generate creates an SVG representation of the state machine
func (g *SVGGenerator) Generate() (string, error) {
	dotContent := g.dotGenerator.Generate()

	// Use Graphviz dot command to convert DOT to SVG
	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(dotContent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}

	return out.String(), nil
}

// GenerateSVG creates an SVG representation of the state machine without
// constructing a separate SVGGenerator
func (g *DOTGenerator) GenerateSVG() (string, error) {
	svgGen := &SVGGenerator{dotGenerator: g}
	return svgGen.Generate()
}
