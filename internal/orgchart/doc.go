// Package orgchart turns raw directory records into a single rooted
// reporting tree.
//
// # Pipeline
//
// A refresh feeds provider records through three stages:
//
//	rec := orgchart.Record{ID: "42", Name: "Ada", ManagerID: "7"}
//	emp := normalizer.Normalize(rec, time.Now())
//	root, err := orgchart.Builder{RootEmail: "ceo@example.com"}.Build(employees)
//
// Normalize applies display defaults and parses the hire date. Build indexes
// the batch, links each employee to its manager, picks a root and
// materializes the tree reachable from it.
//
// # Root Selection
//
// Build tries, in order: the id hint, the email hint, the first root
// candidate whose title names a top executive, the first root candidate, the
// employee with the most direct reports, and finally the first employee. A
// root candidate is an employee with no manager in the batch.
//
// # Reading
//
// Trees are treated as immutable once built. WithRecency returns a copy with
// the new-employee flag recomputed for the current time, and Search and Find
// walk the tree in pre-order through Node.All.
package orgchart
