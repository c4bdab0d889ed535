package orgchart

import (
	"errors"
	"strings"
)

// ErrEmptyBatch is returned by Build when there are no employees.
var ErrEmptyBatch = errors.New("no employees to build a hierarchy from")

// executiveKeywords mark a top-level title, tested in order against the
// lowercased title of each root candidate.
var executiveKeywords = []string{
	"chief executive",
	"ceo",
	"president",
	"chair",
	"director",
	"head",
}

// RootRule names the rule that selected the root.
type RootRule string

const (
	RootByID             RootRule = "id_hint"
	RootByEmail          RootRule = "email_hint"
	RootByTitle          RootRule = "executive_title"
	RootByFirstCandidate RootRule = "first_candidate"
	RootByMostReports    RootRule = "most_reports"
	RootByFirstEmployee  RootRule = "first_employee"
)

// Builder assembles a reporting tree from a batch of employees. RootID and
// RootEmail are optional hints for the top of the tree.
type Builder struct {
	RootID string
	// RootEmail matches an employee's email ignoring case.
	RootEmail string
}

// arena holds the batch indexed by id, in first-occurrence order.
type arena struct {
	emps     []Employee
	index    map[string]int
	parent   []int
	children [][]int
}

func newArena(employees []Employee) *arena {
	a := &arena{index: make(map[string]int, len(employees))}
	for _, e := range employees {
		if i, ok := a.index[e.ID]; ok {
			a.emps[i] = e
			continue
		}
		a.index[e.ID] = len(a.emps)
		a.emps = append(a.emps, e)
	}
	a.parent = make([]int, len(a.emps))
	a.children = make([][]int, len(a.emps))
	for i, e := range a.emps {
		a.parent[i] = -1
		if e.ManagerID == nil {
			continue
		}
		m, ok := a.index[*e.ManagerID]
		if !ok || m == i {
			continue
		}
		a.parent[i] = m
		a.children[m] = append(a.children[m], i)
	}
	return a
}

// Build indexes the batch, links every employee to its manager, picks a root
// and returns the tree reachable from it. Duplicate ids keep the last record.
func (b Builder) Build(employees []Employee) (*Node, error) {
	root, _, err := b.BuildWithRule(employees)
	return root, err
}

// BuildWithRule is Build that also reports which rule chose the root.
func (b Builder) BuildWithRule(employees []Employee) (*Node, RootRule, error) {
	if len(employees) == 0 {
		return nil, "", ErrEmptyBatch
	}
	a := newArena(employees)
	r, rule := b.selectRoot(a)
	return a.materialize(r), rule, nil
}

func (b Builder) selectRoot(a *arena) (int, RootRule) {
	if b.RootID != "" {
		if i, ok := a.index[b.RootID]; ok {
			return i, RootByID
		}
	}
	if b.RootEmail != "" {
		for i, e := range a.emps {
			if e.Email != "" && strings.EqualFold(e.Email, b.RootEmail) {
				return i, RootByEmail
			}
		}
	}

	var candidates []int
	for i := range a.emps {
		if a.parent[i] < 0 {
			candidates = append(candidates, i)
		}
	}
	for _, i := range candidates {
		if isExecutive(a.emps[i].Title) {
			return i, RootByTitle
		}
	}
	if len(candidates) > 0 {
		return candidates[0], RootByFirstCandidate
	}

	best, most := -1, 0
	for i, c := range a.children {
		if len(c) > most {
			best, most = i, len(c)
		}
	}
	if best >= 0 {
		return best, RootByMostReports
	}
	return 0, RootByFirstEmployee
}

func isExecutive(title string) bool {
	t := strings.ToLower(title)
	for _, kw := range executiveKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// materialize converts the subtree under r into nodes. The root is never
// attached below another node, which breaks any reporting cycle through it.
func (a *arena) materialize(r int) *Node {
	nodes := make([]*Node, len(a.emps))
	root := &Node{Employee: a.emps[r]}
	nodes[r] = root

	queue := []int{r}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for _, c := range a.children[i] {
			if nodes[c] != nil {
				continue
			}
			child := &Node{Employee: a.emps[c]}
			nodes[c] = child
			nodes[i].AddChild(child)
			queue = append(queue, c)
		}
	}
	return root
}
