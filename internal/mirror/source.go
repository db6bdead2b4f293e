package mirror

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/valyala/fasthttp"

	"salvi/app/internal/wiki"
)

const defaultTimeout = 15 * time.Second

// ErrUnavailable indicates the master answered with an error status.
var ErrUnavailable = eris.New("sync unavailable")

// Source is where remote pages come from.
type Source interface {
	ChangedSince(ctx context.Context, since time.Time) ([]uint, error)
	PageInfo(ctx context.Context, id uint) (*wiki.PageInfo, error)
}

// HTTPSource reads a master instance over HTTP.
type HTTPSource struct {
	base    string
	client  *fasthttp.Client
	timeout time.Duration
}

// NewHTTPSource validates the master URL and builds a client for it.
func NewHTTPSource(master string) (*HTTPSource, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(master), "/")
	parsed, err := url.Parse(trimmed)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, eris.Errorf("invalid sync master URL: %q", master)
	}

	return &HTTPSource{
		base: trimmed,
		client: &fasthttp.Client{
			Name:                "salvi-sync",
			MaxIdleConnDuration: time.Minute,
			ReadTimeout:         defaultTimeout,
			WriteTimeout:        defaultTimeout,
		},
		timeout: defaultTimeout,
	}, nil
}

type changedResponse struct {
	IDs    []uint `json:"ids"`
	Status string `json:"status"`
}

// ChangedSince lists the ids the master touched at or after since.
func (s *HTTPSource) ChangedSince(ctx context.Context, since time.Time) ([]uint, error) {
	ts := strconv.FormatFloat(wiki.UnixSeconds(since), 'f', -1, 64)

	var body changedResponse
	if err := s.getJSON(ctx, s.base+"/changed-since/"+ts, &body); err != nil {
		return nil, eris.Wrap(err, "listing changed pages")
	}
	return body.IDs, nil
}

// PageInfo fetches one page including its latest text.
func (s *HTTPSource) PageInfo(ctx context.Context, id uint) (*wiki.PageInfo, error) {
	var info wiki.PageInfo
	endpoint := s.base + "/api/pages/" + strconv.FormatUint(uint64(id), 10) + "/info?text=true"
	if err := s.getJSON(ctx, endpoint, &info); err != nil {
		return nil, eris.Wrapf(err, "fetching page %d", id)
	}
	return &info, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, endpoint string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "request cancelled")
	}

	if err := s.client.DoTimeout(req, resp, timeout); err != nil {
		return eris.Wrapf(err, "GET %s", endpoint)
	}
	if status := resp.StatusCode(); status >= 400 {
		return eris.Wrapf(ErrUnavailable, "GET %s: HTTP %d", endpoint, status)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return eris.Wrapf(err, "decoding %s", endpoint)
	}
	return nil
}
