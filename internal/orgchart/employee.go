package orgchart

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Display defaults for absent directory attributes.
const (
	DefaultTitle      = "No Title"
	DefaultDepartment = "No Department"
)

// DaysPerMonth is the fixed month length used by the recency window.
const DaysPerMonth = 30

// DefaultRecencyMonths is the new-employee window when none is configured.
const DefaultRecencyMonths = 3

// ErrInvalidHireDate is returned by ParseHireDate for unrecognized input.
var ErrInvalidHireDate = errors.New("invalid hire date")

// Record is a raw provider record. Empty strings mean the attribute is absent.
type Record struct {
	ID         string
	Name       string
	Title      string
	Department string
	Email      string
	Phone      string
	Location   string
	ManagerID  string
	HireDate   string
}

// Valid reports whether the record carries the attributes every employee
// needs.
func (r Record) Valid() bool {
	return strings.TrimSpace(r.ID) != "" && strings.TrimSpace(r.Name) != ""
}

// Employee is a normalized directory entry.
type Employee struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Title      string     `json:"title"`
	Department string     `json:"department"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
	Location   string     `json:"location"`
	ManagerID  *string    `json:"managerId"`
	HireDate   *time.Time `json:"hireDate"`
	IsNew      bool       `json:"isNewEmployee"`
}

// Equal reports whether two employees carry the same record content.
func (e Employee) Equal(o Employee) bool {
	if e.ID != o.ID || e.Name != o.Name || e.Title != o.Title ||
		e.Department != o.Department || e.Email != o.Email ||
		e.Phone != o.Phone || e.Location != o.Location || e.IsNew != o.IsNew {
		return false
	}
	switch {
	case e.ManagerID == nil || o.ManagerID == nil:
		if e.ManagerID != o.ManagerID {
			return false
		}
	case *e.ManagerID != *o.ManagerID:
		return false
	}
	switch {
	case e.HireDate == nil || o.HireDate == nil:
		return e.HireDate == o.HireDate
	default:
		return e.HireDate.Equal(*o.HireDate)
	}
}

// RecencyPolicy decides whether an employee counts as newly hired.
type RecencyPolicy struct {
	Months int
}

// Window returns the length of the recency window.
func (p RecencyPolicy) Window() time.Duration {
	return time.Duration(p.Months) * DaysPerMonth * 24 * time.Hour
}

// IsNew reports whether hire lies less than the window before now. A nil hire
// date is never new.
func (p RecencyPolicy) IsNew(hire *time.Time, now time.Time) bool {
	if hire == nil {
		return false
	}
	return now.Sub(*hire) < p.Window()
}

// hireDateLayouts are tried in order by ParseHireDate.
var hireDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// ParseHireDate parses an ISO-8601 date-time (with or without zone) or a bare
// YYYY-MM-DD date. Values without a zone are taken as UTC.
func ParseHireDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range hireDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidHireDate, s)
}

// Normalizer converts provider records into employees.
type Normalizer struct {
	policy RecencyPolicy
	logger *zap.Logger
}

// NewNormalizer creates a normalizer. A nil logger discards warnings.
func NewNormalizer(policy RecencyPolicy, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{policy: policy, logger: logger}
}

// Normalize applies display defaults, parses the hire date and computes the
// new-employee flag against now.
func (n *Normalizer) Normalize(rec Record, now time.Time) Employee {
	emp := Employee{
		ID:         strings.TrimSpace(rec.ID),
		Name:       strings.TrimSpace(rec.Name),
		Title:      orDefault(rec.Title, DefaultTitle),
		Department: orDefault(rec.Department, DefaultDepartment),
		Email:      strings.TrimSpace(rec.Email),
		Phone:      strings.TrimSpace(rec.Phone),
		Location:   strings.TrimSpace(rec.Location),
	}
	if m := strings.TrimSpace(rec.ManagerID); m != "" {
		emp.ManagerID = &m
	}

	hire, err := ParseHireDate(rec.HireDate)
	if err != nil {
		n.logger.Warn("ignoring hire date",
			zap.String("employee_id", emp.ID),
			zap.Error(err))
	}
	emp.HireDate = hire
	emp.IsNew = n.policy.IsNew(hire, now)
	return emp
}

// NormalizeAll normalizes every valid record and returns the number of
// records dropped for missing an id or name.
func (n *Normalizer) NormalizeAll(recs []Record, now time.Time) ([]Employee, int) {
	out := make([]Employee, 0, len(recs))
	dropped := 0
	for _, rec := range recs {
		if !rec.Valid() {
			dropped++
			continue
		}
		out = append(out, n.Normalize(rec, now))
	}
	return out, dropped
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
