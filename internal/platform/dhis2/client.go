package dhis2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hispls/dreams-reports/internal/report"
)

// Client is a thin wrapper over the DHIS2 Web API covering the endpoints the
// aggregation engine needs: event and enrollment analytics, tracker-program
// metadata and the organisation-unit tree.
type Client struct {
	baseURL string
	http    *http.Client
	auth    func(*http.Request)
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBasicAuth authenticates requests with a DHIS2 username and password.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.auth = func(r *http.Request) {
			r.SetBasicAuth(username, password)
		}
	}
}

// WithToken authenticates requests with a DHIS2 personal access token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.auth = func(r *http.Request) {
			r.Header.Set("Authorization", "ApiToken "+token)
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger attaches a logger for request-level diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for the DHIS2 instance at baseURL (with or
// without a trailing slash).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 120 * time.Second},
		auth:    func(*http.Request) {},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events runs one page of an event analytics query.
func (c *Client) Events(ctx context.Context, q report.AnalyticsQuery) (*report.AnalyticsResponse, error) {
	path := fmt.Sprintf("/api/analytics/events/query/%s.json", url.PathEscape(q.Program))
	return c.analytics(ctx, path, q)
}

// Enrollments runs one page of an enrollment analytics query.
func (c *Client) Enrollments(ctx context.Context, q report.AnalyticsQuery) (*report.AnalyticsResponse, error) {
	path := fmt.Sprintf("/api/analytics/enrollments/query/%s.json", url.PathEscape(q.Program))
	return c.analytics(ctx, path, q)
}

func (c *Client) analytics(ctx context.Context, path string, q report.AnalyticsQuery) (*report.AnalyticsResponse, error) {
	params := url.Values{}
	if len(q.OrgUnits) > 0 {
		params.Add("dimension", "ou:"+strings.Join(q.OrgUnits, ";"))
	}
	if len(q.Periods) > 0 {
		params.Add("dimension", "pe:"+strings.Join(q.Periods, ";"))
	}
	for _, dx := range q.Dx {
		params.Add("dimension", dx)
	}
	if q.Stage != "" {
		params.Set("stage", q.Stage)
	}
	if q.StartDate != "" {
		params.Set("startDate", q.StartDate)
	}
	if q.EndDate != "" {
		params.Set("endDate", q.EndDate)
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.SkipData {
		params.Set("skipData", "true")
	}
	if q.SkipMeta {
		params.Set("skipMeta", "true")
	} else {
		params.Set("totalPages", "true")
	}
	params.Set("displayProperty", "NAME")

	resp := &report.AnalyticsResponse{}
	if err := c.get(ctx, path, params, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// programsPayload mirrors the nested metadata listing shape of the Web API.
type programsPayload struct {
	Programs []struct {
		ID            string `json:"id"`
		ProgramStages []struct {
			ID                       string `json:"id"`
			ProgramStageDataElements []struct {
				DataElement struct {
					ID string `json:"id"`
				} `json:"dataElement"`
			} `json:"programStageDataElements"`
		} `json:"programStages"`
		ProgramTrackedEntityAttributes []struct {
			TrackedEntityAttribute struct {
				ID string `json:"id"`
			} `json:"trackedEntityAttribute"`
		} `json:"programTrackedEntityAttributes"`
	} `json:"programs"`
}

// Programs fetches the stage and attribute metadata for the given tracker
// programs.
func (c *Client) Programs(ctx context.Context, ids []string) ([]report.Program, error) {
	params := url.Values{}
	params.Set("fields", "id,programStages[id,programStageDataElements[dataElement[id]]],programTrackedEntityAttributes[trackedEntityAttribute[id]]")
	params.Set("filter", "id:in:["+strings.Join(ids, ",")+"]")
	params.Set("paging", "false")

	payload := &programsPayload{}
	if err := c.get(ctx, "/api/programs.json", params, payload); err != nil {
		return nil, err
	}

	programs := make([]report.Program, 0, len(payload.Programs))
	for _, p := range payload.Programs {
		program := report.Program{ID: p.ID}
		for _, s := range p.ProgramStages {
			stage := report.ProgramStage{ID: s.ID}
			for _, de := range s.ProgramStageDataElements {
				stage.DataElementIDs = append(stage.DataElementIDs, de.DataElement.ID)
			}
			program.ProgramStages = append(program.ProgramStages, stage)
		}
		for _, a := range p.ProgramTrackedEntityAttributes {
			program.AttributeIDs = append(program.AttributeIDs, a.TrackedEntityAttribute.ID)
		}
		programs = append(programs, program)
	}
	return programs, nil
}

type orgUnitsPayload struct {
	OrganisationUnits []report.OrgUnit `json:"organisationUnits"`
}

// OrgUnits fetches the named organisation units with their ancestor lineage,
// for location-name resolution.
func (c *Client) OrgUnits(ctx context.Context, ids []string) ([]report.OrgUnit, error) {
	params := url.Values{}
	params.Set("fields", "id,level,name,ancestors[id,level,name]")
	params.Set("filter", "id:in:["+strings.Join(ids, ",")+"]")
	params.Set("paging", "false")

	payload := &orgUnitsPayload{}
	if err := c.get(ctx, "/api/organisationUnits.json", params, payload); err != nil {
		return nil, err
	}
	return payload.OrganisationUnits, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	c.auth(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("dhis2 request")

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
