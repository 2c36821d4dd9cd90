// Package resolver maps a merchant domain to its payment endpoint via a
// well-known JSON document, so customers can open channels against a
// bare domain name.
package resolver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
)

// Path is the well-known location of the endpoint document.
const Path = "/turnstile.json"

type Endpoint struct {
	URL string `json:"url"`
}

// Document is the payload served at Path: the merchant's payment
// endpoints in preference order.
type Document struct {
	Endpoints []Endpoint `json:"endpoints"`
}

type Resolver struct {
	Client      *http.Client
	DefaultPort int
}

func NewResolver() *Resolver {
	return &Resolver{
		Client: &http.Client{},
	}
}

// Resolve turns a domain (or an already-complete URL, returned as-is)
// into the merchant's payment endpoint URL.
func (r *Resolver) Resolve(domain string) (*url.URL, error) {
	if u, err := url.Parse(domain); err == nil {
		if u.Scheme != "" {
			return u, nil
		}
	}

	var rurl url.URL
	rurl.Scheme = "https"
	rurl.Host = domain
	rurl.Path = Path

	if r.DefaultPort != 0 {
		rurl.Host += ":" + strconv.Itoa(r.DefaultPort)
	}

	resp, err := r.Client.Get(rurl.String())
	if err != nil {
		return nil, errors.Wrap(err, "fetch endpoint document")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("endpoint document: http %d", resp.StatusCode)
	}

	var d Document
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, errors.Wrap(err, "parse endpoint document")
	}
	if len(d.Endpoints) == 0 {
		return nil, errors.New("no payment endpoint listed")
	}
	return url.Parse(d.Endpoints[0].URL)
}
