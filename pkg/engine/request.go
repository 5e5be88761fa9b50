package engine

import (
	"github.com/teaberrycow/asynchttp/pkg/body"
	"github.com/teaberrycow/asynchttp/pkg/properties"
	"github.com/teaberrycow/asynchttp/pkg/urlparse"
)

// Request is not modified by Do: redirects and the 401 retry work on
// local copies of Method, URL and Headers, while Body is reset for
// replay (or closed and dropped when a redirect rewrites to GET) and
// is closed once Do returns.
type Request struct {
	Method  string
	URL     *urlparse.URL
	Headers map[string]string
	Args    map[string]string
	Body    *body.Body
	Props   properties.Properties
}

// NewRequest parses rawURL and returns a Request carrying props as
// given; zero-valued fields are filled from Defaults() by Resolved()
// when the Request is executed.
func NewRequest(method, rawURL string, props properties.Properties) (*Request, error) {
	u, err := urlparse.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{Method: method, URL: u, Props: props}, nil
}
