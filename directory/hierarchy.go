package directory

// Node is one agent in the reporting tree.
type Node struct {
	Record   AgentRecord `json:"agent"`
	Children []*Node     `json:"children,omitempty"`
}

// Hierarchy builds the reporting forest. Roots are agents with no manager
// or whose manager is not registered. Children come from a record's
// Subordinates followed by any agent that names it in ReportingTo but is
// not listed. Unknown ids are skipped and no agent appears twice; agents
// reachable only through a cycle become extra roots.
func (d *Directory) Hierarchy() []*Node {
	records := d.List()

	byID := make(map[string]AgentRecord, len(records))
	reports := make(map[string][]string)
	for _, r := range records {
		byID[r.ID] = r
	}
	for _, r := range records {
		if r.ReportingTo != "" {
			reports[r.ReportingTo] = append(reports[r.ReportingTo], r.ID)
		}
	}

	visited := make(map[string]bool, len(records))
	var build func(id string) *Node
	build = func(id string) *Node {
		visited[id] = true
		n := &Node{Record: byID[id]}

		listed := make(map[string]bool)
		var kids []string
		for _, c := range n.Record.Subordinates {
			if !listed[c] {
				listed[c] = true
				kids = append(kids, c)
			}
		}
		for _, c := range reports[id] {
			if !listed[c] {
				listed[c] = true
				kids = append(kids, c)
			}
		}
		for _, c := range kids {
			if _, known := byID[c]; !known || visited[c] {
				continue
			}
			n.Children = append(n.Children, build(c))
		}
		return n
	}

	var roots []*Node
	for _, r := range records {
		if _, hasManager := byID[r.ReportingTo]; r.ReportingTo == "" || !hasManager {
			if !visited[r.ID] {
				roots = append(roots, build(r.ID))
			}
		}
	}
	for _, r := range records {
		if !visited[r.ID] {
			roots = append(roots, build(r.ID))
		}
	}
	return roots
}

// Walk visits n and its descendants depth-first with their depth.
func (n *Node) Walk(fn func(n *Node, depth int)) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}
