package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// GraphScope requests every application permission granted to the client.
const GraphScope = "https://graph.microsoft.com/.default"

// ClientCredentials obtains app-only tokens with the OAuth2 client
// credentials grant. Tokens are cached until shortly before expiry.
type ClientCredentials struct {
	cfg        clientcredentials.Config
	httpClient *http.Client

	once sync.Once
	src  oauth2.TokenSource
}

// NewClientCredentials creates a token provider for tokenURL. A nil
// httpClient uses http.DefaultClient.
func NewClientCredentials(tokenURL, clientID, clientSecret string, httpClient *http.Client) *ClientCredentials {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ClientCredentials{
		cfg: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{GraphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

// Token returns a valid access token.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	c.once.Do(func() {
		base := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
		c.src = c.cfg.TokenSource(base)
	})

	type result struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := c.src.Token()
		ch <- result{tok, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		return "", classifyTokenError(res.err)
	}
	if res.tok.AccessToken == "" {
		return "", errors.New("token endpoint returned an empty access token")
	}
	return res.tok.AccessToken, nil
}

func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, re.ErrorDescription)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrForbidden, re.ErrorDescription)
		}
		if re.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: token endpoint returned %d", ErrUnavailable, re.Response.StatusCode)
		}
	}
	return fmt.Errorf("failed to acquire token: %w", err)
}

// StaticToken is a TokenProvider returning a fixed token.
type StaticToken string

// Token returns the fixed token.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}
