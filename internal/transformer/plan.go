// Package transformer holds the pure, row-level building blocks shared by the
// projector and the partition builder: the projection plan that maps a source
// header onto a policy, and schema fingerprints.
package transformer

// Plan is a compiled projection of a source header onto a column policy.
type Plan struct {
	// Columns is the emitted header: policy order, restricted to names that
	// exist in the source header.
	Columns []string
	// Index[i] is the source field position of Columns[i].
	Index []int
	// Missing lists policy columns that the source header does not have.
	Missing []string
}

// CompilePlan computes the order-preserving intersection of policy and header.
// A column repeated in policy is emitted once, at its first position.
//
// Example: policy [b z a] against header [a b c] yields Columns [b a] and
// Missing [z].
func CompilePlan(header, policy []string) Plan {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		if _, dup := pos[h]; !dup {
			pos[h] = i
		}
	}

	p := Plan{
		Columns: make([]string, 0, len(policy)),
		Index:   make([]int, 0, len(policy)),
	}
	emitted := make(map[string]bool, len(policy))
	for _, c := range policy {
		if emitted[c] {
			continue
		}
		emitted[c] = true
		i, ok := pos[c]
		if !ok {
			p.Missing = append(p.Missing, c)
			continue
		}
		p.Columns = append(p.Columns, c)
		p.Index = append(p.Index, i)
	}
	return p
}

// Apply copies the planned fields of rec into dst (resized as needed) and
// returns it. The caller must ensure rec is wide enough for every index.
func (p Plan) Apply(dst, rec []string) []string {
	if cap(dst) < len(p.Index) {
		dst = make([]string, len(p.Index))
	}
	dst = dst[:len(p.Index)]
	for i, si := range p.Index {
		dst[i] = rec[si]
	}
	return dst
}

// Width is the minimum record length Apply needs.
func (p Plan) Width() int {
	w := 0
	for _, si := range p.Index {
		if si+1 > w {
			w = si + 1
		}
	}
	return w
}
