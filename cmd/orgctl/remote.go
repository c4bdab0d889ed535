package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/orgchart/internal/http"
	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
)

func newRefreshCmd() *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Ask the server to rebuild the chart from the directory",
		Long: `Start a refresh on the server. Without --wait the command returns as soon
as the server accepted the request; a refresh already in progress is not
started twice.

Examples:
  # Start a refresh in the background
  orgctl refresh

  # Refresh and wait for the result
  orgctl refresh --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/api/update-now"
			if wait {
				path = "/api/force-update"
			}
			var resp httpserver.UpdateResponse
			if err := call(http.MethodPost, path, nil, timeout, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, okStyle.Render(resp.Status))
			if resp.Employees != nil {
				fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Employees"), valueStyle.Render(fmt.Sprint(*resp.Employees)))
			}
			if resp.RunID != "" {
				fmt.Fprintf(out, "%s %s\n", labelStyle.Render("Run"), dimStyle.Render(resp.RunID))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the refresh to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "how long to wait for the server")
	return cmd
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find employees by name, title, department, or email",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.Join(args, " ")
			var results []orgchart.Employee
			if err := call(http.MethodGet, "/api/search?q="+url.QueryEscape(q), nil, 10*time.Second, &results); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("no employees match %q", q)))
				return nil
			}
			for _, e := range results {
				line := valueStyle.Render(e.Name) + " " + dimStyle.Render(fmt.Sprintf("· %s · %s", e.Title, e.Department))
				if e.Email != "" {
					line += dimStyle.Render(" <" + e.Email + ">")
				}
				if e.IsNew {
					line += " " + newStyle.Render("new")
				}
				fmt.Fprintf(out, "%s  %s\n", dimStyle.Render(e.ID), line)
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show snapshot age and refresh state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st httpserver.StatusResponse
			if err := call(http.MethodGet, "/api/status", nil, 10*time.Second, &st); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(st))
			return nil
		},
	}
}

func renderStatus(st httpserver.StatusResponse) string {
	rows := []row{
		{"Data", yesNo(st.HasData)},
		{"Employees", fmt.Sprint(st.Employees)},
	}
	if st.BuiltAt != nil {
		rows = append(rows, row{"Built", fmt.Sprintf("%s (%s ago)", st.BuiltAt.Local().Format(time.DateTime), time.Duration(st.AgeSeconds)*time.Second)})
	}
	mode := okStyle.Render("scheduled")
	if st.Offline {
		mode = warnStyle.Render("offline")
	}
	rows = append(rows, row{"Mode", mode}, row{"Refreshing", yesNo(st.Refreshing)})
	if st.NextRefresh != nil {
		rows = append(rows, row{"Next", st.NextRefresh.Local().Format(time.DateTime)})
	}
	if last := st.LastRefresh; last != nil {
		result := okStyle.Render("ok")
		if last.Error != "" {
			result = errStyle.Render(last.Error)
		}
		rows = append(rows, row{"Last run", fmt.Sprintf("%s, %s", last.Reason, result)})
	}
	rows = append(rows, row{"New window", count(st.NewEmployeeMonths, "month")})
	return panel("orgchartd status", rows...)
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check orgchartd server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var h httpserver.HealthResponse
			if err := call(http.MethodGet, "/health", nil, 5*time.Second, &h); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), errStyle.Render("unreachable"))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", h.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", serverURL)
			return nil
		},
	}
}
