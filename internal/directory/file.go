package directory

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
)

// Mapping names the header of each column in an export. Matching is
// case-insensitive and ignores surrounding spaces.
type Mapping struct {
	ID         string `toml:"id"`
	Name       string `toml:"name"`
	Title      string `toml:"title"`
	Department string `toml:"department"`
	Email      string `toml:"email"`
	Phone      string `toml:"phone"`
	Location   string `toml:"location"`
	ManagerID  string `toml:"manager_id"`
	HireDate   string `toml:"hire_date"`
	// Sheet selects the XLSX worksheet; empty means the first one.
	Sheet string `toml:"sheet"`
}

// DefaultMapping matches the column names of the CSV template.
func DefaultMapping() Mapping {
	return Mapping{
		ID:         "id",
		Name:       "name",
		Title:      "title",
		Department: "department",
		Email:      "email",
		Phone:      "phone",
		Location:   "location",
		ManagerID:  "managerId",
		HireDate:   "hireDate",
	}
}

// LoadMapping reads a TOML mapping file. Keys left out keep their defaults.
//
//	id = "Employee Number"
//	name = "Full Name"
//	manager_id = "Supervisor Number"
func LoadMapping(path string) (Mapping, error) {
	m := DefaultMapping()
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return Mapping{}, fmt.Errorf("failed to load mapping %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Mapping{}, fmt.Errorf("unknown keys in mapping %s: %v", path, undecoded)
	}
	return m, nil
}

// ImportStats summarizes a file read.
type ImportStats struct {
	Rows     int
	Imported int
	Skipped  int
}

// FileSource reads employee records from a CSV or XLSX export.
type FileSource struct {
	path    string
	mapping Mapping
	logger  *zap.Logger
}

// NewFileSource creates a source for path. The format follows the extension.
func NewFileSource(path string, mapping Mapping, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{path: path, mapping: mapping, logger: logger}
}

// Fetch implements Source.
func (s *FileSource) Fetch(ctx context.Context) ([]orgchart.Record, error) {
	recs, _, err := s.Read(ctx)
	return recs, err
}

// Read returns the valid records and row counts.
func (s *FileSource) Read(ctx context.Context) ([]orgchart.Record, ImportStats, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".csv":
		rows, err = readCSV(s.path)
	case ".xlsx":
		rows, err = readXLSX(s.path, s.mapping.Sheet)
	default:
		return nil, ImportStats{}, fmt.Errorf("%w: %s", ErrUnsupportedFile, s.path)
	}
	if err != nil {
		return nil, ImportStats{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, ImportStats{}, err
	}
	return s.records(rows)
}

func (s *FileSource) records(rows [][]string) ([]orgchart.Record, ImportStats, error) {
	if len(rows) == 0 {
		return nil, ImportStats{}, errors.New("missing header")
	}
	cols, err := s.columns(rows[0])
	if err != nil {
		return nil, ImportStats{}, err
	}

	var stats ImportStats
	out := make([]orgchart.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		stats.Rows++
		rec := cols.record(row)
		if !rec.Valid() {
			stats.Skipped++
			s.logger.Debug("skipping row without id or name", zap.Int("line", i+2))
			continue
		}
		out = append(out, rec)
	}
	stats.Imported = len(out)
	importRowsSkipped.Add(float64(stats.Skipped))
	return out, stats, nil
}

// columnIndex maps each record field to its column, -1 when absent.
type columnIndex struct {
	id, name, title, department, email, phone, location, managerID, hireDate int
}

func (s *FileSource) columns(header []string) (columnIndex, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	find := func(name string) int {
		if i, ok := idx[strings.ToLower(strings.TrimSpace(name))]; ok && name != "" {
			return i
		}
		return -1
	}

	m := s.mapping
	c := columnIndex{
		id:         find(m.ID),
		name:       find(m.Name),
		title:      find(m.Title),
		department: find(m.Department),
		email:      find(m.Email),
		phone:      find(m.Phone),
		location:   find(m.Location),
		managerID:  find(m.ManagerID),
		hireDate:   find(m.HireDate),
	}
	if c.id < 0 {
		return c, fmt.Errorf("%w: %s", ErrMissingColumn, m.ID)
	}
	if c.name < 0 {
		return c, fmt.Errorf("%w: %s", ErrMissingColumn, m.Name)
	}
	return c, nil
}

func (c columnIndex) record(row []string) orgchart.Record {
	return orgchart.Record{
		ID:         cell(row, c.id),
		Name:       cell(row, c.name),
		Title:      cell(row, c.title),
		Department: cell(row, c.department),
		Email:      cell(row, c.email),
		Phone:      cell(row, c.phone),
		Location:   cell(row, c.location),
		ManagerID:  cell(row, c.managerID),
		HireDate:   hireDateCell(cell(row, c.hireDate)),
	}
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return CleanValue(row[i])
}

// CleanValue trims v and maps the placeholders "", null, none and n/a (any
// case) to the empty string.
func CleanValue(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "null", "none", "n/a":
		return ""
	}
	return v
}

// hireDateCell converts spreadsheet serial dates to YYYY-MM-DD and passes
// anything else through.
func hireDateCell(v string) string {
	if v == "" {
		return ""
	}
	serial, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return v
	}
	return t.Format(time.DateOnly)
}

func blankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(stripUTF8BOM(bufio.NewReader(f)))
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rows = append(rows, row)
	}
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

func readXLSX(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%s has no worksheets", path)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return rows, nil
}
