package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orgchart/internal/directory"
	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
	"github.com/fyrsmithlabs/orgchart/internal/snapshot"
)

// errOutputExists is returned when import would overwrite a snapshot
// without --force.
var errOutputExists = errors.New("output file already exists (use --force to overwrite)")

type importOptions struct {
	output    string
	mapping   string
	sheet     string
	rootID    string
	rootEmail string
	force     bool
	verbose   bool
}

func newImportCmd() *cobra.Command {
	opts := importOptions{}
	cmd := &cobra.Command{
		Use:   "import <file.csv|file.xlsx>",
		Short: "Build a snapshot file from an HR export",
		Long: `Read employees from a CSV or XLSX export, build the reporting tree, and
write it as a snapshot file orgchartd can serve.

Columns default to id, name, title, department, email, phone, location,
managerId and hireDate (header names are case-insensitive). A TOML mapping
file renames them:

  id = "Employee Number"
  manager_id = "Supervisor Number"
  sheet = "Staff"

Examples:
  # Import a CSV export
  orgctl import staff.csv

  # Import a workbook with custom columns, replacing the current snapshot
  orgctl import --mapping hr.toml --force staff.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "employee_data.json", "snapshot file to write")
	cmd.Flags().StringVar(&opts.mapping, "mapping", "", "TOML column mapping file")
	cmd.Flags().StringVar(&opts.sheet, "sheet", "", "worksheet to read from an XLSX file (default: first sheet)")
	cmd.Flags().StringVar(&opts.rootID, "root-id", "", "employee id to use as the root")
	cmd.Flags().StringVar(&opts.rootEmail, "root-email", "", "employee email to use as the root")
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "overwrite an existing output file")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log skipped rows and ignored hire dates")
	return cmd
}

func runImport(cmd *cobra.Command, path string, opts importOptions) error {
	ctx := cmd.Context()
	store := snapshot.NewFileStore(opts.output)
	if store.Exists() && !opts.force {
		return fmt.Errorf("%s: %w", opts.output, errOutputExists)
	}

	mapping := directory.DefaultMapping()
	if opts.mapping != "" {
		m, err := directory.LoadMapping(opts.mapping)
		if err != nil {
			return err
		}
		mapping = m
	}
	if opts.sheet != "" {
		mapping.Sheet = opts.sheet
	}

	logger := zap.NewNop()
	if opts.verbose {
		dev, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = dev
	}
	defer func() { _ = logger.Sync() }()

	recs, stats, err := directory.NewFileSource(path, mapping, logger).Read(ctx)
	if err != nil {
		return err
	}

	normalizer := orgchart.NewNormalizer(orgchart.RecencyPolicy{Months: orgchart.DefaultRecencyMonths}, logger)
	employees, dropped := normalizer.NormalizeAll(recs, time.Now())
	root, rule, err := orgchart.Builder{RootID: opts.rootID, RootEmail: opts.rootEmail}.BuildWithRule(employees)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, root); err != nil {
		return err
	}

	placed := orgchart.Count(root)
	rows := []row{
		{"Source", path},
		{"Rows", fmt.Sprint(stats.Rows)},
		{"Imported", fmt.Sprint(stats.Imported)},
		{"Skipped", fmt.Sprint(stats.Skipped + dropped)},
		{"In tree", fmt.Sprint(placed)},
		{"Root", fmt.Sprintf("%s (%s)", root.Name, rule)},
		{"Output", opts.output},
	}
	fmt.Fprintln(cmd.OutOrStdout(), panel("Import complete", rows...))
	if unplaced := len(employees) - placed; unplaced > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render(fmt.Sprintf("%s not reachable from the root", count(unplaced, "employee"))))
	}
	return nil
}
