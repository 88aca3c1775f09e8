package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nhttp "net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/nikkolasg/hexjson"

	"github.com/drand/ceremony/ceremony"
	"github.com/drand/ceremony/client"
	"github.com/drand/ceremony/common"
	"github.com/drand/ceremony/common/log"
	"github.com/drand/ceremony/crypto"
	"github.com/drand/ceremony/internal/metrics"
)

const (
	defaultClientExec  = "unknown"
	defaultHTTPTimeout = 60 * time.Second
	defaultMaxTries    = 5
	maxTimeoutPing     = 5 * time.Second
)

// Client talks to a coordinator over HTTP on behalf of one keypair. It is
// safe for concurrent use.
type Client struct {
	root       string
	client     *nhttp.Client
	transport  nhttp.RoundTripper
	timeout    time.Duration
	keypair    *crypto.Keypair
	l          log.Logger
	agent      string
	maxTries   uint
	newBackOff func() backoff.BackOff
}

var (
	_ client.Coordinator = (*Client)(nil)
	_ client.Admin       = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the round tripper used for every request.
func WithTransport(t nhttp.RoundTripper) Option {
	return func(c *Client) { c.transport = t }
}

// WithTimeout bounds the duration of a single request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxTries bounds how many times a request is sent when it keeps
// failing with transport errors.
func WithMaxTries(n uint) Option {
	return func(c *Client) { c.maxTries = n }
}

// WithBackOff sets the retry schedule of transport failures.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

// New returns a client for the coordinator at root acting as kp.
func New(l log.Logger, root string, kp *crypto.Keypair, opts ...Option) (*Client, error) {
	u, err := url.Parse(root)
	if err != nil {
		return nil, fmt.Errorf("invalid coordinator url %q: %w", root, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid coordinator url %q: unsupported scheme %q", root, u.Scheme)
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}
	if kp == nil {
		return nil, fmt.Errorf("missing keypair")
	}

	pn, err := os.Executable()
	if err != nil {
		pn = defaultClientExec
	}
	c := &Client{
		root:      root,
		transport: nhttp.DefaultTransport,
		timeout:   defaultHTTPTimeout,
		keypair:   kp,
		l:         l.Named("client"),
		agent:     fmt.Sprintf("ceremony-%s/%s", path.Base(pn), common.GetAppVersion()),
		maxTries:  defaultMaxTries,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client = instrumentClient(root, c.transport, c.timeout)
	return c, nil
}

func instrumentClient(url string, transport nhttp.RoundTripper, timeout time.Duration) *nhttp.Client {
	hc := nhttp.Client{}
	hc.Timeout = timeout
	hc.Jar = nhttp.DefaultClient.Jar
	hc.CheckRedirect = nhttp.DefaultClient.CheckRedirect
	hc.Transport = metrics.InstrumentRoundTripper(url, transport)
	return &hc
}

// PublicKey returns the identity the client acts as.
func (c *Client) PublicKey() string {
	return c.keypair.PublicKey()
}

func (c *Client) String() string {
	return "HTTP(" + c.root + ")"
}

// Ping checks the coordinator is up and runs a compatible version.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, maxTimeoutPing)
	defer cancel()

	var health ceremony.HealthResponse
	if err := c.roundTrip(ctx, "health", nhttp.MethodGet, ceremony.PathHealth, nil, &health); err != nil {
		return err
	}
	v, err := parseVersion(health.Version)
	if err != nil {
		return fmt.Errorf("coordinator version %q: %w", health.Version, err)
	}
	if !common.GetAppVersion().IsCompatible(v) {
		return fmt.Errorf("coordinator runs incompatible version %s", health.Version)
	}
	return nil
}

func parseVersion(s string) (common.Version, error) {
	var v common.Version
	core := s
	if i := strings.IndexAny(s, "+-"); i >= 0 {
		core, v.Prerelease = s[:i], s[i:]
	}
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected major.minor.patch")
	}
	dst := []*uint32{&v.Major, &v.Minor, &v.Patch}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return v, err
		}
		*dst[i] = uint32(n)
	}
	return v, nil
}

// do sends a request, retrying transport failures. The body is marshalled
// once so every try sends the same bytes.
func (c *Client) do(ctx context.Context, op, method, route string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("%s: encoding request: %w", op, err)
		}
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.roundTrip(ctx, op, method, route, payload, out)
		if err != nil && (!common.IsRetryable(err) || ctx.Err() != nil) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.ClientRetries.WithLabelValues(op).Inc()
			c.l.Debugw("retrying request", "op", op, "in", next, "err", err)
		}))
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, route string, payload []byte, out interface{}) error {
	var body io.Reader = nhttp.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := nhttp.NewRequestWithContext(ctx, method, c.root+strings.TrimPrefix(route, "/"), body)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.agent)
	if err := c.sign(req, route); err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return common.WrapError(common.TransportFailure, op, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return common.WrapError(common.TransportFailure, op, fmt.Errorf("reading response: %w", err))
	}

	switch {
	case resp.StatusCode == nhttp.StatusOK:
	case resp.StatusCode == nhttp.StatusInternalServerError:
		return decodeError(op, b)
	case resp.StatusCode > nhttp.StatusInternalServerError, resp.StatusCode == nhttp.StatusTooManyRequests:
		return common.NewError(common.TransportFailure, op, "unexpected status "+resp.Status)
	default:
		return common.NewError(common.CoordinatorRejected, op,
			fmt.Sprintf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(b))))
	}

	switch o := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*o = b
		return nil
	default:
		if err := json.Unmarshal(b, out); err != nil {
			return common.WrapError(common.TransportFailure, op, fmt.Errorf("malformed response: %w", err))
		}
		return nil
	}
}

// decodeError turns a 500 body into a classified error. Structured bodies
// are preferred, plain text ones are matched on their wording.
func decodeError(op string, body []byte) error {
	var resp ceremony.ErrorResponse
	if err := json.Unmarshal(body, &resp); err == nil && resp.Kind != "" {
		return common.NewError(common.ParseKind(resp.Kind), op, resp.Message)
	}
	return common.ErrorFromText(op, string(body))
}

// sign adds the headers authenticating the request as coming from the
// client's keypair.
func (c *Client) sign(req *nhttp.Request, route string) error {
	ts := time.Now().Unix()
	sig, err := c.keypair.Sign(ceremony.AdminMessage(req.Method, route, ts))
	if err != nil {
		return fmt.Errorf("signing request: %w", err)
	}
	req.Header.Set(ceremony.HeaderPublicKey, c.keypair.PublicKey())
	req.Header.Set(ceremony.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(ceremony.HeaderSignature, sig)
	return nil
}
