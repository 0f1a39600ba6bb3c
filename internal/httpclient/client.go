// Package httpclient provides the outbound HTTP client used by connectors.
// It refuses non-HTTP schemes and, unless told otherwise, any host that is or
// resolves to a loopback, private or otherwise internal address.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/teranos/gnis/errors"
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Timeout           time.Duration
	AllowedSchemes    []string // default http, https
	MaxRedirects      int      // default 10
	AllowPrivateHosts bool     // allow loopback and private networks, e.g. a local census mirror
}

// Client is an http.Client that validates every request and redirect target.
type Client struct {
	*http.Client
	schemes      []string
	maxRedirects int
	allowPrivate bool
}

// New builds a Client.
func New(opts Options) *Client {
	c := &Client{
		Client:       &http.Client{Timeout: opts.Timeout},
		schemes:      []string{"http", "https"},
		maxRedirects: 10,
		allowPrivate: opts.AllowPrivateHosts,
	}
	if len(opts.AllowedSchemes) > 0 {
		c.schemes = opts.AllowedSchemes
	}
	if opts.MaxRedirects > 0 {
		c.maxRedirects = opts.MaxRedirects
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		return errors.Wrap(c.validate(req.URL), "redirect blocked")
	}

	if !c.allowPrivate {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		c.Transport = &http.Transport{
			// Checked at dial time as well so DNS rebinding cannot reach internal hosts.
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, _, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, errors.Wrap(err, "invalid address")
				}
				ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "resolve host %q", host)
				}
				for _, ip := range ips {
					if isPrivateIP(ip) {
						return nil, errors.Newf("private IP address blocked: %s", ip)
					}
				}
				return dialer.DialContext(ctx, network, addr)
			},
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
	}
	return c
}

// Wrap adopts an existing http.Client, e.g. one pointed at an httptest server.
// Private hosts are allowed.
func Wrap(hc *http.Client) *Client {
	return &Client{Client: hc, schemes: []string{"http", "https"}, maxRedirects: 10, allowPrivate: true}
}

// ValidateURL parses and checks a URL without sending anything.
func (c *Client) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validate(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Do validates req's URL and sends it.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.validate(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}

func (c *Client) validate(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(c.schemes, scheme) {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.schemes)
	}
	if u.User != nil || strings.Contains(u.Host, "@") {
		return errors.New("URL carries user info")
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("URL missing hostname")
	}
	if c.allowPrivate {
		return nil
	}
	if isLocalhost(host) {
		return errors.New("localhost access blocked")
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return errors.Newf("private IP address blocked: %s", host)
	}
	return nil
}

var privateV4 = []*net.IPNet{
	cidr("0.0.0.0/8"),
	cidr("10.0.0.0/8"),
	cidr("127.0.0.0/8"),
	cidr("169.254.0.0/16"),
	cidr("172.16.0.0/12"),
	cidr("192.168.0.0/16"),
	cidr("224.0.0.0/4"),
	cidr("240.0.0.0/4"),
}

var privateV6 = []*net.IPNet{
	cidr("fc00::/7"),
	cidr("fec0::/10"),
	cidr("2001:db8::/32"),
}

func cidr(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

func isPrivateIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		for _, n := range privateV4 {
			if n.Contains(ip4) {
				return true
			}
		}
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateV6 {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func isLocalhost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost")
}
