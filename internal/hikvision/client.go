package hikvision

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/technosupport/ts-hikbridge/internal/metrics"
)

const (
	alertStreamPath = "/ISAPI/Event/notification/alertStream"
	deviceInfoPath  = "/ISAPI/System/deviceInfo"

	// A run of this many consecutive malformed parts forces a reconnect.
	maxConsecutiveBadParts = 16
)

// ClientConfig carries the per-camera connection settings.
type ClientConfig struct {
	ID             string // used in log messages
	BaseURL        string // http://host:port
	Username       string
	Password       string
	AllowBasic     bool // permit Basic fallback when the device offers no Digest challenge
	ConnectTimeout time.Duration
}

// Client issues digest-authenticated requests against one camera. Digest
// state is never shared across cameras; each open performs a fresh handshake
// so the nonce counter restarts per connection.
type Client struct {
	cfg   ClientConfig
	httpc *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		MaxIdleConnsPerHost:   1,
		DisableCompression:    true,
	}
	// No overall client timeout: the alert stream is deliberately long-lived
	// and silent between events.
	return &Client{cfg: cfg, httpc: &http.Client{Transport: transport}}
}

// OpenAlertStream connects to the camera's alert endpoint and returns the
// live part stream.
func (c *Client) OpenAlertStream(ctx context.Context) (*AlertStream, error) {
	resp, err := c.get(ctx, alertStreamPath)
	if err != nil {
		return nil, err
	}
	parts, err := NewPartReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	return &AlertStream{resp: resp, parts: parts, camID: c.cfg.ID}, nil
}

// DeviceInfo is the subset of /ISAPI/System/deviceInfo used to enrich
// discovery payloads.
type DeviceInfo struct {
	XMLName         xml.Name `xml:"DeviceInfo"`
	DeviceName      string   `xml:"deviceName"`
	Model           string   `xml:"model"`
	SerialNumber    string   `xml:"serialNumber"`
	FirmwareVersion string   `xml:"firmwareVersion"`
	DeviceType      string   `xml:"deviceType"`
}

// FetchDeviceInfo queries the device description. Best-effort: callers treat
// a failure as "no enrichment".
func (c *Client) FetchDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	resp, err := c.get(ctx, deviceInfoPath)
	if err != nil {
		return DeviceInfo{}, err
	}
	defer resp.Body.Close()

	var info DeviceInfo
	if err := xml.NewDecoder(resp.Body).Decode(&info); err != nil {
		return DeviceInfo{}, fmt.Errorf("decode device info: %w", err)
	}
	return info, nil
}

// get performs the digest handshake: unauthenticated request first, then on
// a 401 challenge exactly one authenticated retry.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	resp, err := c.do(ctx, path, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	if resp.StatusCode != http.StatusUnauthorized {
		drain(resp)
		return nil, &StatusError{Code: resp.StatusCode}
	}

	challenges := resp.Header.Values("WWW-Authenticate")
	drain(resp)

	authz, err := c.answerChallenge(challenges, path)
	if err != nil {
		return nil, err
	}

	resp, err = c.do(ctx, path, authz)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusUnauthorized:
		drain(resp)
		return nil, &AuthError{Reason: "username or password incorrect"}
	case http.StatusForbidden:
		drain(resp)
		return nil, &AuthError{Reason: "user lacks permission (grant 'Notify Surveillance Center')"}
	default:
		code := resp.StatusCode
		drain(resp)
		return nil, &StatusError{Code: code}
	}
}

func (c *Client) answerChallenge(challenges []string, path string) (string, error) {
	for _, h := range challenges {
		if len(h) >= 6 && (h[:6] == "Digest" || h[:6] == "digest") {
			ch, err := parseDigestChallenge(h)
			if err != nil {
				return "", &AuthError{Reason: err.Error()}
			}
			authz, err := newDigestAuth(ch, c.cfg.Username, c.cfg.Password).Authorize(http.MethodGet, path)
			if err != nil {
				return "", &AuthError{Reason: err.Error()}
			}
			return authz, nil
		}
	}
	if c.cfg.AllowBasic {
		return "Basic " + basicCredentials(c.cfg.Username, c.cfg.Password), nil
	}
	return "", &AuthError{Reason: "device offered no digest challenge and basic auth is not permitted"}
}

func (c *Client) do(ctx context.Context, path, authorization string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectRefused, err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// AlertStream yields decoded alerts from one open connection.
type AlertStream struct {
	resp   *http.Response
	parts  *PartReader
	camID  string
	badRun int
}

// Next blocks for the next well-formed alert. Malformed parts are skipped
// with a warning; a run of maxConsecutiveBadParts in a row tears the stream
// down as TransportClosed.
func (s *AlertStream) Next() (Alert, error) {
	for {
		_, body, err := s.parts.Next()
		if err != nil {
			return Alert{}, fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}
		alert, perr := ParseAlert(body)
		if perr != nil {
			s.badRun++
			metrics.ParseErrorsTotal.WithLabelValues(s.camID).Inc()
			log.Printf("[WARN] Hikvision (%s): skipping malformed part: %v", s.camID, perr)
			if s.badRun >= maxConsecutiveBadParts {
				return Alert{}, fmt.Errorf("%w: %d consecutive malformed parts", ErrTransportClosed, s.badRun)
			}
			continue
		}
		s.badRun = 0
		return alert, nil
	}
}

// Close terminates the underlying connection. A blocked Next returns
// TransportClosed afterwards.
func (s *AlertStream) Close() error {
	return s.resp.Body.Close()
}

func basicCredentials(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
