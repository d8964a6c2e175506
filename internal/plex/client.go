// internal/plex/client.go
package plex

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "plex")

// ErrPlainHTTP is returned when a server URL uses plain http and the
// configuration does not allow it.
var ErrPlainHTTP = errors.New("plain http is not enabled in the configuration")

// Identity describes how this player introduces itself to Plex servers
// and remotes.
type Identity struct {
	ClientUUID string
	PlayerName string
	AllowHTTP  bool
}

// Client talks to Plex media servers. Servers hand out ephemeral access
// tokens per playMedia command; the client keeps the latest token per
// host and signs every request with it plus the player identity.
type Client struct {
	mu         sync.Mutex
	tokens     map[string]string
	identity   Identity
	httpClient *http.Client
}

// NewClient creates a Plex server client with the given identity.
func NewClient(identity Identity) *Client {
	return &Client{
		tokens:   make(map[string]string),
		identity: identity,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// UpdateToken stores the ephemeral access token for a server host.
func (c *Client) UpdateToken(host, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[host] = token
}

// Identity returns the player identity the client signs requests with.
func (c *Client) Identity() Identity {
	return c.identity
}

// SignURL appends the host's access token and the X-Plex identity
// parameters to a server URL. It rejects plain-http URLs unless the
// configuration allows them.
func (c *Client) SignURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse server url %q: %w", rawURL, err)
	}
	if u.Scheme != "https" && !c.identity.AllowHTTP {
		return "", ErrPlainHTTP
	}

	q := u.Query()
	for key, values := range params {
		for _, v := range values {
			q.Set(key, v)
		}
	}

	c.mu.Lock()
	token, ok := c.tokens[u.Hostname()]
	c.mu.Unlock()
	if ok {
		q.Set("X-Plex-Token", token)
	} else {
		log.Errorf("no access token for %s", u.Hostname())
	}

	q.Set("X-Plex-Version", "1.0")
	q.Set("X-Plex-Client-Identifier", c.identity.ClientUUID)
	q.Set("X-Plex-Provides", "player")
	q.Set("X-Plex-Device-Name", c.identity.PlayerName)
	q.Set("X-Plex-Product", "Plex Home Theater")
	q.Set("X-Plex-Platform", "Plex Home Theater")

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GetXML fetches a server URL and decodes the XML response into out.
func (c *Client) GetXML(rawURL string, params url.Values, out any) error {
	signed, err := c.SignURL(rawURL, params)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Get(signed)
	if err != nil {
		return fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return nil
}

// Request fires a signed GET at the server and reports whether it
// returned 200. The response body is discarded.
func (c *Client) Request(rawURL string, params url.Values) error {
	signed, err := c.SignURL(rawURL, params)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Get(signed)
	if err != nil {
		return fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return nil
}

// Post sends a signed POST with the given body and content type,
// reporting whether the server accepted it.
func (c *Client) Post(rawURL string, params url.Values, contentType string, body io.Reader) error {
	signed, err := c.SignURL(rawURL, params)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Post(signed, contentType, body)
	if err != nil {
		return fmt.Errorf("post %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	return nil
}
