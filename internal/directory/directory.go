// Package directory fetches employee records from the corporate directory.
//
// The Microsoft Graph Client pages through /users with the manager relation
// expanded; FileSource reads CSV or XLSX exports for offline imports. Both
// produce orgchart.Record values and satisfy Source.
package directory

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/orgchart/internal/orgchart"
)

// Errors for directory operations.
var (
	ErrUnauthorized    = errors.New("directory rejected the credentials (check AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET)")
	ErrForbidden       = errors.New("directory denied access (grant the application User.Read.All and admin consent)")
	ErrUnavailable     = errors.New("directory temporarily unavailable")
	ErrTooManyPages    = errors.New("directory returned too many pages")
	ErrInvalidCursor   = errors.New("next page link points outside the directory")
	ErrMissingColumn   = errors.New("missing required column")
	ErrUnsupportedFile = errors.New("unsupported file type (want .csv or .xlsx)")
)

// Source produces the raw records of one refresh.
type Source interface {
	Fetch(ctx context.Context) ([]orgchart.Record, error)
}

// TokenProvider obtains a bearer token for the directory.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Page is one page of directory records. An empty NextCursor marks the last
// page.
type Page struct {
	Records    []orgchart.Record
	NextCursor string
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]orgchart.Record, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context) ([]orgchart.Record, error) {
	return f(ctx)
}
