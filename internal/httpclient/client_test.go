package httpclient

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c := New(Options{Timeout: 30 * time.Second})

	assert.Equal(t, 30*time.Second, c.Timeout)
	assert.Equal(t, 10, c.maxRedirects)
	assert.False(t, c.allowPrivate)
	assert.Equal(t, []string{"http", "https"}, c.schemes)
}

func TestValidateURL(t *testing.T) {
	c := New(Options{})

	tests := []struct {
		url     string
		wantErr string
	}{
		{"https://api.census.gov/data", ""},
		{"http://8.8.8.8/", ""},
		{"file:///etc/passwd", "scheme"},
		{"gopher://example.com", "scheme"},
		{"http://localhost/admin", "localhost"},
		{"http://admin.localhost/", "localhost"},
		{"http://127.0.0.1/", "private IP"},
		{"http://10.0.0.1/", "private IP"},
		{"http://172.16.0.1/", "private IP"},
		{"http://192.168.1.1/", "private IP"},
		{"http://169.254.169.254/metadata", "private IP"},
		{"http://[::1]/", "private IP"},
		{"http://evil.com@localhost/", "user info"},
		{"http:///path", "missing hostname"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := c.ValidateURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAllowPrivateHosts(t *testing.T) {
	c := New(Options{AllowPrivateHosts: true})

	_, err := c.ValidateURL("http://127.0.0.1:8080/data")
	assert.NoError(t, err)

	_, err = c.ValidateURL("ftp://127.0.0.1/")
	assert.Error(t, err, "schemes are still enforced")
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"10.1.2.3", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"192.168.0.1", true},
		{"127.0.0.1", true},
		{"0.0.0.0", true},
		{"224.0.0.1", true},
		{"8.8.8.8", false},
		{"::1", true},
		{"fe80::1", true},
		{"fd00::1", true},
		{"2001:db8::1", true},
		{"2606:4700:4700::1111", false},
		{"::ffff:10.0.0.1", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.private, isPrivateIP(net.ParseIP(tt.ip)), tt.ip)
	}
}

func TestDoBlocksPrivateTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = New(Options{}).Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request blocked")

	resp, err := New(Options{AllowPrivateHosts: true}).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRedirectLimit(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	c := New(Options{AllowPrivateHosts: true, MaxRedirects: 2})
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = c.Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
}

func TestWrap(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	c := Wrap(hc)
	assert.Same(t, hc, c.Client)
	assert.True(t, c.allowPrivate)
}
