package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
	"github.com/fyrsmithlabs/orgchart/internal/snapshot"
)

type treeOptions struct {
	depth   int
	months  int
	rootID  string
	noColor bool
}

func newTreeCmd() *cobra.Command {
	opts := treeOptions{}
	cmd := &cobra.Command{
		Use:   "tree [snapshot.json]",
		Short: "Print a snapshot file as a tree",
		Long: `Render the reporting tree stored in a snapshot file.

Examples:
  # Top three levels of the default snapshot
  orgctl tree --depth 3

  # One branch of another file
  orgctl tree --from 42 backup/employee_data.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "employee_data.json"
			if len(args) == 1 {
				path = args[0]
			}
			return runTree(cmd, path, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.depth, "depth", "d", 0, "levels to show below the root (0 shows all)")
	cmd.Flags().IntVar(&opts.months, "months", orgchart.DefaultRecencyMonths, "hire window in months for the new marker")
	cmd.Flags().StringVar(&opts.rootID, "from", "", "start at this employee id instead of the root")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "disable styling")
	return cmd
}

func runTree(cmd *cobra.Command, path string, opts treeOptions) error {
	snap, err := snapshot.NewFileStore(path).Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	start := snap.Root
	if opts.rootID != "" {
		n, ok := orgchart.Find(snap.Root, opts.rootID)
		if !ok {
			return fmt.Errorf("employee %q not found in %s", opts.rootID, path)
		}
		start = n
	}
	start = orgchart.WithRecency(start, orgchart.RecencyPolicy{Months: opts.months}, time.Now())

	if opts.noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	return writeTree(cmd.OutOrStdout(), start, opts.depth)
}

// writeTree renders root down to depth levels below it; depth <= 0 renders
// everything.
func writeTree(w io.Writer, root *orgchart.Node, depth int) error {
	if depth <= 0 {
		depth = -1
	}
	t := buildTree(root, depth).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(dimStyle).
		RootStyle(valueStyle)
	_, err := fmt.Fprintln(w, t)
	return err
}

// buildTree adds remaining levels of reports under n. A negative remaining
// never runs out.
func buildTree(n *orgchart.Node, remaining int) *tree.Tree {
	t := tree.Root(nodeLabel(n))
	for _, c := range n.Children {
		switch {
		case len(c.Children) == 0:
			t.Child(nodeLabel(c))
		case remaining == 1:
			t.Child(nodeLabel(c) + dimStyle.Render(fmt.Sprintf(" (+%s)", count(orgchart.Count(c)-1, "report"))))
		default:
			t.Child(buildTree(c, remaining-1))
		}
	}
	return t
}

func nodeLabel(n *orgchart.Node) string {
	label := n.Name + " " + dimStyle.Render("· "+n.Title)
	if n.Department != "" && n.Department != orgchart.DefaultDepartment {
		label += dimStyle.Render(" · " + n.Department)
	}
	if n.IsNew {
		label += " " + newStyle.Render("new")
	}
	return label
}
