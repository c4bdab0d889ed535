package orgchart

import (
	"encoding/json"
	"iter"
	"time"
)

// Node is an employee together with its direct reports.
type Node struct {
	Employee
	Children []*Node `json:"children"`
}

// MarshalJSON always emits children as an array.
func (n *Node) MarshalJSON() ([]byte, error) {
	type plain Node
	p := plain(*n)
	if p.Children == nil {
		p.Children = []*Node{}
	}
	return json.Marshal(p)
}

// AddChild appends child unless an equal record is already attached.
// It reports whether the child was added.
func (n *Node) AddChild(child *Node) bool {
	for _, c := range n.Children {
		if c == child || c.Employee.Equal(child.Employee) {
			return false
		}
	}
	n.Children = append(n.Children, child)
	return true
}

// All yields the subtree rooted at n in pre-order. The sequence is lazy and
// may be iterated any number of times.
func (n *Node) All() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		if n == nil {
			return
		}
		stack := []*Node{n}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(cur) {
				return
			}
			for i := len(cur.Children) - 1; i >= 0; i-- {
				stack = append(stack, cur.Children[i])
			}
		}
	}
}

// Find returns the first node in pre-order with the given id.
func Find(root *Node, id string) (*Node, bool) {
	for n := range root.All() {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// Count returns the number of nodes in the tree.
func Count(root *Node) int {
	c := 0
	for range root.All() {
		c++
	}
	return c
}

// Summary returns the employee record without its reports.
func (n *Node) Summary() Employee {
	return n.Employee
}

// WithRecency returns a deep copy of the tree with every new-employee flag
// recomputed against now. root is left untouched.
func WithRecency(root *Node, policy RecencyPolicy, now time.Time) *Node {
	if root == nil {
		return nil
	}
	cp := &Node{Employee: root.Employee}
	cp.IsNew = policy.IsNew(cp.HireDate, now)
	if len(root.Children) > 0 {
		cp.Children = make([]*Node, len(root.Children))
		for i, c := range root.Children {
			cp.Children[i] = WithRecency(c, policy, now)
		}
	}
	return cp
}

// Placeholder is served before any snapshot exists.
func Placeholder() *Node {
	return &Node{
		Employee: Employee{
			ID:         "root",
			Name:       "No Data",
			Title:      "Please check configuration",
			Department: DefaultDepartment,
		},
	}
}
