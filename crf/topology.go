package crf

import (
	"fmt"
	"regexp"
	"strings"
)

// AddFullyConnectedStates adds one state per label, each with a transition to
// every label state. Every ordered label pair gets its own weight set "A->B".
func (g *Graph) AddFullyConnectedStates(labels []string) error {
	for _, l := range labels {
		g.labels.Add(l)
		if _, err := g.AddState(l, 0, 0); err != nil {
			return err
		}
	}
	for _, src := range labels {
		for _, dst := range labels {
			if err := g.AddTransitionNamed(src, dst, dst, src+"->"+dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// observedPairs returns the label pairs (prev, next) seen in instances. A
// label that begins an instance is paired with every label, since the first
// frame is consumed by a transition into its label's state from whichever
// state the path starts in.
func observedPairs(instances []Instance, numLabels int) [][]bool {
	seen := make([][]bool, numLabels)
	for i := range seen {
		seen[i] = make([]bool, numLabels)
	}
	for _, inst := range instances {
		if len(inst.Output) > 0 {
			for i := range seen {
				seen[i][inst.Output[0]] = true
			}
		}
		for t := 1; t < len(inst.Output); t++ {
			seen[inst.Output[t-1]][inst.Output[t]] = true
		}
	}
	return seen
}

func (g *Graph) checkInstanceLabels(instances []Instance) error {
	for i, inst := range instances {
		for _, l := range inst.Output {
			if l < 0 || l >= g.labels.Size() {
				return configErr("topology", fmt.Errorf("instance %d: %w: label %d", i, ErrAlphabetMismatch, l))
			}
		}
	}
	return nil
}

// AddStatesConnectedAsIn adds one state per label in the graph's label
// alphabet, with transitions only between labels observed adjacent in
// instances, plus transitions from every state into labels that begin an
// instance. Weight sets are per label pair, as in AddFullyConnectedStates.
func (g *Graph) AddStatesConnectedAsIn(instances []Instance) error {
	return g.addConnectedAsIn(instances, func(src, dst string) string { return src + "->" + dst })
}

// AddHalfStatesConnectedAsIn is AddStatesConnectedAsIn with weight sets tied
// by destination label, so every transition into a label shares weights.
func (g *Graph) AddHalfStatesConnectedAsIn(instances []Instance) error {
	return g.addConnectedAsIn(instances, func(_, dst string) string { return dst })
}

func (g *Graph) addConnectedAsIn(instances []Instance, weightName func(src, dst string) string) error {
	if err := g.checkInstanceLabels(instances); err != nil {
		return err
	}
	L := g.labels.Size()
	seen := observedPairs(instances, L)
	for i := range L {
		if _, err := g.AddState(g.labels.String(i), 0, 0); err != nil {
			return err
		}
	}
	for i := range L {
		for j := range L {
			if !seen[i][j] {
				continue
			}
			src, dst := g.labels.String(i), g.labels.String(j)
			if err := g.AddTransitionNamed(src, dst, dst, weightName(src, dst)); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddStartState adds a state that every path must begin in. All existing
// states get an infinite initial cost; the start state has transitions to
// every label state, emitting that label, with weight sets "name->label".
func (g *Graph) AddStartState(name string) error {
	for i := range g.states {
		g.states[i].InitialCost = InfiniteCost
	}
	if _, err := g.AddState(name, 0, InfiniteCost); err != nil {
		return err
	}
	for i := range g.labels.Size() {
		l := g.labels.String(i)
		if g.StateIndex(l) < 0 {
			continue
		}
		if err := g.AddTransitionNamed(name, l, l, name+"->"+l); err != nil {
			return err
		}
	}
	g.weights.touch()
	return nil
}

// OrderN describes a graph whose states are histories of the last
// max(Orders) labels.
type OrderN struct {
	// Orders lists, in increasing order, the history lengths that get their
	// own weight sets. Orders {0, 1} gives every transition a weight set for
	// its label alone and one for (previous label, label).
	Orders []int
	// Start, if set, is the label histories are padded with at the
	// beginning of a sequence; only the all-Start history may begin a path.
	Start string
	// Forbidden label pairs "A,B" may never be adjacent.
	Forbidden *regexp.Regexp
	// Allowed, if set, must match every adjacent label pair "A,B".
	Allowed *regexp.Regexp
	// FullyConnected keeps every permitted transition; otherwise only label
	// n-grams observed in Instances are kept.
	FullyConnected bool
	Instances      []Instance
}

const historySep = ","

func (o *OrderN) validate(labels *Alphabet) error {
	if len(o.Orders) == 0 {
		return fmt.Errorf("%w: no orders given", ErrInvalidOrder)
	}
	for i, ord := range o.Orders {
		if ord < 0 {
			return fmt.Errorf("%w: negative order %d", ErrInvalidOrder, ord)
		}
		if i > 0 && ord <= o.Orders[i-1] {
			return fmt.Errorf("%w: orders must increase, got %v", ErrInvalidOrder, o.Orders)
		}
	}
	if o.Start != "" && labels.Get(o.Start) < 0 {
		return fmt.Errorf("%w: start label %q", ErrAlphabetMismatch, o.Start)
	}
	return nil
}

func (o *OrderN) pairAllowed(prev, next string) bool {
	pair := prev + historySep + next
	if o.Forbidden != nil && o.Forbidden.MatchString(pair) {
		return false
	}
	if o.Allowed != nil && !o.Allowed.MatchString(pair) {
		return false
	}
	return true
}

func (o *OrderN) historyAllowed(h []string) bool {
	for i := 1; i < len(h); i++ {
		if !o.pairAllowed(h[i-1], h[i]) {
			return false
		}
	}
	return true
}

func historyName(h []string) string {
	if len(h) == 0 {
		return "*"
	}
	return strings.Join(h, historySep)
}

// AddOrderNStates adds history states over the graph's label alphabet.
func (g *Graph) AddOrderNStates(o OrderN) error {
	if err := o.validate(g.labels); err != nil {
		return configErr("order-n", err)
	}
	if err := g.checkInstanceLabels(o.Instances); err != nil {
		return err
	}
	maxOrder := o.Orders[len(o.Orders)-1]
	labels := append([]string(nil), g.labels.ToStr...)

	histories := [][]string{{}}
	for range maxOrder {
		var grown [][]string
		for _, h := range histories {
			for _, l := range labels {
				nh := append(append([]string(nil), h...), l)
				if o.historyAllowed(nh) {
					grown = append(grown, nh)
				}
			}
		}
		histories = grown
	}

	// seen holds observed label n-grams of length maxOrder+1. Without a
	// start label the first maxOrder frames have no full window; prefixes
	// holds the sequence-initial label runs that cover them instead.
	var seen, prefixes map[string]bool
	if !o.FullyConnected {
		seen = make(map[string]bool)
		prefixes = make(map[string]bool)
		for _, inst := range o.Instances {
			padded := make([]string, 0, maxOrder+len(inst.Output))
			for range maxOrder {
				padded = append(padded, o.Start)
			}
			for _, l := range inst.Output {
				padded = append(padded, g.labels.String(l))
			}
			for t := maxOrder; t < len(padded); t++ {
				if o.Start == "" && t < 2*maxOrder {
					prefixes[strings.Join(padded[maxOrder:t+1], historySep)] = true
					continue
				}
				seen[strings.Join(padded[t-maxOrder:t+1], historySep)] = true
			}
		}
	}
	observed := func(ext []string) bool {
		if seen == nil || seen[strings.Join(ext, historySep)] {
			return true
		}
		for k := 1; k <= maxOrder; k++ {
			if prefixes[strings.Join(ext[len(ext)-k:], historySep)] {
				return true
			}
		}
		return false
	}

	startName := ""
	if o.Start != "" {
		start := make([]string, maxOrder)
		for i := range start {
			start[i] = o.Start
		}
		startName = historyName(start)
	}
	valid := make(map[string]bool, len(histories))
	for _, h := range histories {
		name := historyName(h)
		valid[name] = true
		initial := 0.0
		if startName != "" && name != startName {
			initial = InfiniteCost
		}
		if _, err := g.AddState(name, initial, 0); err != nil {
			return err
		}
	}

	for _, h := range histories {
		for _, l := range labels {
			if maxOrder > 0 && !o.pairAllowed(h[len(h)-1], l) {
				continue
			}
			ext := append(append([]string(nil), h...), l)
			dest := historyName(ext[1:])
			if !valid[dest] {
				continue
			}
			if !observed(ext) {
				continue
			}
			names := make([]string, len(o.Orders))
			for k, ord := range o.Orders {
				names[k] = strings.Join(ext[len(ext)-1-ord:], historySep)
			}
			if err := g.AddTransitionNamed(historyName(h), dest, l, names...); err != nil {
				return err
			}
		}
	}
	return nil
}
