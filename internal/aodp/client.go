// Package aodp talks to the Albion Online Data Project API.
package aodp

import (
	"net/http"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=aodp_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Named game servers and their API bases.
const (
	ServerWest   = "west"
	ServerEast   = "east"
	ServerEurope = "europe"
)

var serverBases = map[string]string{
	ServerWest:   "https://west.albion-online-data.com",
	ServerEast:   "https://east.albion-online-data.com",
	ServerEurope: "https://europe.albion-online-data.com",
}

// BaseURL resolves a server name to its API base. Unknown names fall back
// to the west server.
func BaseURL(server string) string {
	if base, ok := serverBases[server]; ok {
		return base
	}
	return serverBases[ServerWest]
}

// DefaultLocations are the royal city markets plus the Black Market.
var DefaultLocations = []string{
	"Bridgewatch",
	"Caerleon",
	"Fort Sterling",
	"Lymhurst",
	"Martlock",
	"Thetford",
	"Black Market",
}

// Client is a client for the AODP API. It performs exactly one request per
// call; retry, split and rate-limit policy live with the caller.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// ClientOption is a configuration option for the AODP client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new AODP client for the named game server.
func NewClient(server string, options ...ClientOption) *Client {
	var client = &Client{
		baseURL:    BaseURL(server),
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	for _, option := range options {
		option(client)
	}
	return client
}
