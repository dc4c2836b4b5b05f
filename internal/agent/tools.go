package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bitechat/internal/domain"
	"bitechat/internal/llm"
	"bitechat/internal/metrics"
)

// ToolKind enumerates the tools the model may call.
type ToolKind int

const (
	ToolGeocode ToolKind = iota + 1
	ToolHybridSearch
)

// Names exposed to the model.
const (
	GeocodeToolName = "coordinate_search"
	SearchToolName  = "restaurant_search"
)

func (k ToolKind) String() string {
	switch k {
	case ToolGeocode:
		return GeocodeToolName
	case ToolHybridSearch:
		return SearchToolName
	default:
		return "unknown"
	}
}

// ParseToolKind maps a model-supplied function name to a tool.
func ParseToolKind(name string) (ToolKind, bool) {
	switch name {
	case GeocodeToolName:
		return ToolGeocode, true
	case SearchToolName:
		return ToolHybridSearch, true
	}
	return 0, false
}

// Tool result statuses.
const (
	StatusOK         = "ok"
	StatusUnresolved = "unresolved"
	StatusError      = "error"
)

// Tool error kinds.
const (
	KindProviderUnavailable = "provider_unavailable"
	KindMalformedInput      = "malformed_input"
)

// ToolError is the structured failure fed back to the model.
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ToolResult is the uniform outcome of a tool invocation.
type ToolResult struct {
	Status     string               `json:"status"`
	Coordinate *domain.Coordinate   `json:"coordinate,omitempty"`
	Venues     []domain.VenueResult `json:"results,omitempty"`
	Message    string               `json:"message,omitempty"`
	Error      *ToolError           `json:"error,omitempty"`
}

// JSON renders the result as the tool message content.
func (r ToolResult) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return `{"status":"error","error":{"kind":"provider_unavailable","message":"result could not be encoded"}}`
	}
	return string(data)
}

type geocodeArgs struct {
	Location string `json:"location"`
}

type searchArgs struct {
	Query string   `json:"query"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
}

// Descriptors returns the function definitions advertised to the model.
func Descriptors() []llm.ToolDescriptor {
	return []llm.ToolDescriptor{
		{
			Name:        GeocodeToolName,
			Description: "Look up the latitude and longitude of a place, neighbourhood, landmark or address.",
			Parameters: `{"type":"object","properties":{` +
				`"location":{"type":"string","description":"The location to search for."}},` +
				`"required":["location"]}`,
		},
		{
			Name: SearchToolName,
			Description: "Search the restaurant index. Pass lat and lon only when they come from " +
				GeocodeToolName + " in this conversation turn.",
			Parameters: `{"type":"object","properties":{` +
				`"query":{"type":"string","description":"The query string to search for."},` +
				`"lat":{"type":"number","description":"Latitude for geo-location based search."},` +
				`"lon":{"type":"number","description":"Longitude for geo-location based search."}},` +
				`"required":["query"]}`,
		},
	}
}

// Toolbox dispatches tool calls to the geocoder and the hybrid search.
type Toolbox struct {
	geocoder domain.Geocoder
	searcher domain.Searcher
	timeout  time.Duration
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewToolbox binds the two tools. Each invocation runs under timeout.
func NewToolbox(geocoder domain.Geocoder, searcher domain.Searcher, timeout time.Duration, m *metrics.Metrics, tracer trace.Tracer, logger *zap.Logger) *Toolbox {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolbox{
		geocoder: geocoder,
		searcher: searcher,
		timeout:  timeout,
		metrics:  m,
		tracer:   tracer,
		logger:   logger.Named("tools"),
	}
}

// Invoke runs one tool. Failures come back as error results, never as Go errors.
func (t *Toolbox) Invoke(ctx context.Context, kind ToolKind, args string) ToolResult {
	ctx, span := t.tracer.Start(ctx, "tool "+kind.String())
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	var res ToolResult
	switch kind {
	case ToolGeocode:
		res = t.geocode(ctx, args)
	case ToolHybridSearch:
		res = t.search(ctx, args)
	default:
		res = malformed("unknown tool")
	}
	t.metrics.ObserveTool(kind.String(), res.Status, time.Since(start))
	span.SetAttributes(attribute.String("tool.status", res.Status))
	if res.Error != nil {
		span.SetStatus(codes.Error, res.Error.Kind)
		t.logger.Warn("tool failed",
			zap.String("tool", kind.String()),
			zap.String("kind", res.Error.Kind),
			zap.String("message", res.Error.Message))
	}
	return res
}

func (t *Toolbox) geocode(ctx context.Context, raw string) ToolResult {
	var args geocodeArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return malformed("arguments must be a JSON object with a location")
	}
	if strings.TrimSpace(args.Location) == "" {
		return malformed("location is required")
	}
	coord, found, err := t.geocoder.Resolve(ctx, args.Location)
	if err != nil {
		return failure(err)
	}
	if !found {
		return ToolResult{Status: StatusUnresolved, Message: "No place result found for " + args.Location}
	}
	return ToolResult{Status: StatusOK, Coordinate: &coord}
}

func (t *Toolbox) search(ctx context.Context, raw string) ToolResult {
	args, err := parseSearchArgs(raw)
	if err != nil {
		return failure(err)
	}
	q := domain.SearchQuery{Query: args.Query}
	if args.Lat != nil {
		q.Coordinate = &domain.Coordinate{Lat: *args.Lat, Lon: *args.Lon}
	}
	venues, err := t.searcher.Search(ctx, q)
	if err != nil {
		return failure(err)
	}
	if len(venues) == 0 {
		return ToolResult{Status: StatusOK, Message: "No restaurants matched the query."}
	}
	return ToolResult{Status: StatusOK, Venues: venues}
}

func parseSearchArgs(raw string) (searchArgs, error) {
	var args searchArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return args, errors.Wrap(domain.ErrMalformedInput, "arguments must be a JSON object with a query")
	}
	if strings.TrimSpace(args.Query) == "" {
		return args, errors.Wrap(domain.ErrMalformedInput, "query is required")
	}
	if (args.Lat == nil) != (args.Lon == nil) {
		return args, errors.Wrap(domain.ErrMalformedInput, "lat and lon must be given together")
	}
	return args, nil
}

func malformed(msg string) ToolResult {
	return ToolResult{Status: StatusError, Error: &ToolError{Kind: KindMalformedInput, Message: msg}}
}

// failure sanitises err: only the sentinel kind and our own context reach the model.
func failure(err error) ToolResult {
	if errors.Is(err, domain.ErrMalformedInput) {
		return malformed(strings.TrimSuffix(err.Error(), ": "+domain.ErrMalformedInput.Error()))
	}
	msg := "the service is temporarily unavailable"
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline exceeded") {
		msg = "the service timed out"
	}
	return ToolResult{Status: StatusError, Error: &ToolError{Kind: KindProviderUnavailable, Message: msg}}
}
