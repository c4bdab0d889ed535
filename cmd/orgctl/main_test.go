package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
)

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","service":"orgchartd"}`))
	})
	mux.HandleFunc("POST /api/update-now", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"Update started"}`))
	})
	mux.HandleFunc("POST /api/force-update", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"refresh disabled in offline mode"}`))
	})
	mux.HandleFunc("GET /api/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "ada love" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_ = json.NewEncoder(w).Encode([]orgchart.Employee{{ID: "7", Name: "Ada Lovelace", Title: "CTO", Department: "Eng", IsNew: true}})
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"has_data":true,"employees":12,"age_seconds":60,"offline":true,
			"last_refresh":{"run_id":"r1","reason":"manual","error":"directory unavailable"},"new_employee_months":3}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// TestRemoteCommands tests the commands that talk to a running server.
func TestRemoteCommands(t *testing.T) {
	srv := fakeServer(t)

	t.Run("health", func(t *testing.T) {
		out, err := execute(t, "--server", srv.URL, "health")
		require.NoError(t, err)
		assert.Contains(t, out, "Server Status: ok")
	})

	t.Run("refresh", func(t *testing.T) {
		out, err := execute(t, "--server", srv.URL, "refresh")
		require.NoError(t, err)
		assert.Contains(t, out, "Update started")
	})

	t.Run("refresh wait offline", func(t *testing.T) {
		_, err := execute(t, "--server", srv.URL, "refresh", "--wait")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503")
		assert.Contains(t, err.Error(), "offline")
	})

	t.Run("search", func(t *testing.T) {
		out, err := execute(t, "--server", srv.URL, "search", "ada", "love")
		require.NoError(t, err)
		assert.Contains(t, out, "Ada Lovelace")
		assert.Contains(t, out, "new")
	})

	t.Run("search no match", func(t *testing.T) {
		out, err := execute(t, "--server", srv.URL, "search", "zed")
		require.NoError(t, err)
		assert.Contains(t, out, "no employees match")
	})

	t.Run("status", func(t *testing.T) {
		out, err := execute(t, "--server", srv.URL, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "12")
		assert.Contains(t, out, "offline")
		assert.Contains(t, out, "directory unavailable")
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := execute(t, "--server", "http://127.0.0.1:1", "health")
		assert.Error(t, err)
	})
}

const staffCSV = `ID,Name,Title,Department,ManagerId,HireDate
1,Ada Root,Chief Executive Officer,Exec,,2015-01-01
2,Bob Branch,VP Engineering,Eng,1,2018-03-01
3,Cy Leaf,Engineer,Eng,2,2019-05-01
4,Di Leaf,Engineer,Eng,2,2020-07-01
,Nameless,Engineer,Eng,2,
`

// TestImportAndTree tests importing a CSV export and rendering the result.
func TestImportAndTree(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "staff.csv")
	out := filepath.Join(dir, "employee_data.json")
	require.NoError(t, os.WriteFile(csvPath, []byte(staffCSV), 0o600))

	got, err := execute(t, "import", "-o", out, csvPath)
	require.NoError(t, err)
	assert.Contains(t, got, "Import complete")
	assert.Contains(t, got, "Ada Root")
	assert.FileExists(t, out)

	_, err = execute(t, "import", "-o", out, csvPath)
	require.ErrorIs(t, err, errOutputExists)

	_, err = execute(t, "import", "-o", out, "--force", "--root-id", "2", csvPath)
	require.NoError(t, err)

	t.Run("tree", func(t *testing.T) {
		got, err := execute(t, "tree", "--no-color", out)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(got, "Bob Branch"), got)
		assert.Contains(t, got, "Cy Leaf")
		assert.Contains(t, got, "Di Leaf")
		assert.NotContains(t, got, "Ada Root")
	})

	t.Run("missing snapshot", func(t *testing.T) {
		_, err := execute(t, "tree", filepath.Join(dir, "nope.json"))
		assert.Error(t, err)
	})
}

// TestWriteTree_Depth tests that reports below the depth limit are summarized.
func TestWriteTree_Depth(t *testing.T) {
	leaf := func(id string) *orgchart.Node {
		return &orgchart.Node{Employee: orgchart.Employee{ID: id, Name: "E" + id, Title: "Dev"}}
	}
	mid := &orgchart.Node{Employee: orgchart.Employee{ID: "2", Name: "Mid", Title: "Lead"}, Children: []*orgchart.Node{leaf("3"), leaf("4")}}
	root := &orgchart.Node{Employee: orgchart.Employee{ID: "1", Name: "Top", Title: "CEO"}, Children: []*orgchart.Node{mid, leaf("5")}}

	var buf bytes.Buffer
	require.NoError(t, writeTree(&buf, root, 1))
	got := buf.String()
	assert.Contains(t, got, "Mid")
	assert.Contains(t, got, "+2 reports")
	assert.NotContains(t, got, "E3")

	buf.Reset()
	require.NoError(t, writeTree(&buf, root, 0))
	assert.Contains(t, buf.String(), "E3")
	assert.Contains(t, buf.String(), "E5")
}
