package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitechat/internal/domain"
	"bitechat/internal/llm"
	"bitechat/internal/metrics"
	"bitechat/internal/search"
)

// scriptedLLM replays canned responses and records what the model was sent.
type scriptedLLM struct {
	responses []llm.ChatResponse
	err       error
	calls     [][]llm.Message
	toolsSeen []int
}

func (s *scriptedLLM) ChatWithTools(_ context.Context, messages []llm.Message, tools []llm.ToolDescriptor) (*llm.ChatResponse, *llm.Usage, error) {
	s.calls = append(s.calls, append([]llm.Message(nil), messages...))
	s.toolsSeen = append(s.toolsSeen, len(tools))
	if s.err != nil {
		return nil, nil, s.err
	}
	if len(s.responses) == 0 {
		return &llm.ChatResponse{Content: "done"}, &llm.Usage{}, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return &r, &llm.Usage{}, nil
}

func (s *scriptedLLM) toolMessages() []llm.Message {
	var out []llm.Message
	if len(s.calls) == 0 {
		return nil
	}
	for _, m := range s.calls[len(s.calls)-1] {
		if m.Role == llm.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

type fakeGeocoder struct {
	coords map[string]domain.Coordinate
	delay  time.Duration
	calls  []string
}

func (f *fakeGeocoder) Resolve(ctx context.Context, location string) (domain.Coordinate, bool, error) {
	f.calls = append(f.calls, location)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.Coordinate{}, false, errors.Wrapf(domain.ErrProviderUnavailable, "geocode: %v", ctx.Err())
		}
	}
	c, ok := f.coords[location]
	return c, ok, nil
}

type staticEmbedder struct{}

func (staticEmbedder) Name() string   { return "static" }
func (staticEmbedder) Dimension() int { return 2 }
func (staticEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.6, 0.8}, nil
}

// capturingBackend records the Elasticsearch body each search would send.
type capturingBackend struct {
	params search.Params
	bodies []map[string]any
	hits   []search.Source
}

func (c *capturingBackend) Name() string { return "capture" }

func (c *capturingBackend) Search(_ context.Context, req search.Request) ([]search.Source, error) {
	data, err := json.Marshal(search.BuildBody(c.params, req))
	if err != nil {
		return nil, err
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	c.bodies = append(c.bodies, body)
	return c.hits, nil
}

func (c *capturingBackend) geoFilter(i int) (map[string]any, bool) {
	knn := c.bodies[i]["knn"].(map[string]any)
	f, ok := knn["filter"]
	if !ok {
		return nil, false
	}
	return f.([]any)[0].(map[string]any)["geo_distance"].(map[string]any), true
}

func str(s string) *string { return &s }

func venueHits(n int) []search.Source {
	all := []search.Source{
		{Info: str("Annapurna Cafe"), Food: str("Momo"), ReviewSummary: str("Cozy basement spot")},
		{Info: str("Cafe Flora"), Food: str("Brunch")},
		{Info: str("Chaat House")},
		{Info: str("Extra Venue")},
	}
	return all[:n]
}

type fixture struct {
	llm      *scriptedLLM
	geocoder *fakeGeocoder
	backend  *capturingBackend
	agent    *Agent
	states   []State
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, toolTimeout time.Duration, responses ...llm.ChatResponse) *fixture {
	t.Helper()
	f := &fixture{
		llm: &scriptedLLM{responses: responses},
		geocoder: &fakeGeocoder{coords: map[string]domain.Coordinate{
			"University of Washington": {Lat: 47.6553, Lon: -122.3035},
		}},
		backend: &capturingBackend{
			params: search.Params{Size: 3, K: 5, NumCandidates: 15, RadiusMeters: 2000,
				VectorField: "review_vector", LocationField: "location", KeywordMode: search.KeywordMatchAll},
			hits: venueHits(4),
		},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	searcher := search.NewService(staticEmbedder{}, f.backend, 3, nil)
	tools := NewToolbox(f.geocoder, searcher, toolTimeout, f.metrics, Tracer(), nil)
	f.agent = New(f.llm, tools, Config{Instruction: "be helpful", MaxIterations: 4}, nil,
		WithMetrics(f.metrics),
		WithTransitionHook(func(_, to State) { f.states = append(f.states, to) }))
	return f
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: args}
}

func decodeResult(t *testing.T, m llm.Message) ToolResult {
	t.Helper()
	var r ToolResult
	require.NoError(t, json.Unmarshal([]byte(m.Content), &r))
	return r
}

func TestRespondSearchWithoutLocation(t *testing.T) {
	f := newFixture(t, time.Second,
		llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("c1", SearchToolName, `{"query":"vegetarian Indian food in Seattle"}`)}},
		llm.ChatResponse{Content: "Try Annapurna Cafe."},
	)

	reply := f.agent.Respond(context.Background(), nil, "vegetarian Indian food in Seattle")
	assert.Equal(t, Reply{Answer: "Try Annapurna Cafe."}, reply)

	assert.Empty(t, f.geocoder.calls)
	require.Len(t, f.backend.bodies, 1)
	_, hasGeo := f.backend.geoFilter(0)
	assert.False(t, hasGeo)

	tools := f.llm.toolMessages()
	require.Len(t, tools, 1)
	assert.Equal(t, "c1", tools[0].ToolCallID)
	res := decodeResult(t, tools[0])
	assert.Equal(t, StatusOK, res.Status)
	assert.Len(t, res.Venues, 3)
	assert.Equal(t, search.NoReviewSummary, res.Venues[1].ReviewSummary)

	assert.Equal(t, []State{StateReasoning, StateReasoning, StateResponding, StateIdle}, f.states)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metricsTurns("answered")))
}

func TestRespondGeocodesThenSearchesWithRadius(t *testing.T) {
	f := newFixture(t, time.Second,
		llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("c1", GeocodeToolName, `{"location":"University of Washington"}`)}},
		llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("c2", SearchToolName, `{"query":"restaurant","lat":47.6553,"lon":-122.3035}`)}},
		llm.ChatResponse{Content: "Cafe Flora is close by."},
	)

	reply := f.agent.Respond(context.Background(), nil, "restaurant near University of Washington")
	assert.False(t, reply.Degraded)
	assert.Equal(t, []string{"University of Washington"}, f.geocoder.calls)

	require.Len(t, f.backend.bodies, 1)
	geo, ok := f.backend.geoFilter(0)
	require.True(t, ok)
	assert.Equal(t, "2km", geo["distance"])
	assert.Equal(t, map[string]any{"lat": 47.6553, "lon": -122.3035}, geo["location"])

	// the geocode result handed to the model carries the coordinate
	first := decodeResult(t, f.llm.calls[1][len(f.llm.calls[1])-1])
	require.NotNil(t, first.Coordinate)
	assert.Equal(t, 47.6553, first.Coordinate.Lat)
}

func TestRespondGeocodeTimeoutDegradesGracefully(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond,
		llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("c1", GeocodeToolName, `{"location":"University of Washington"}`)}},
		llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("c2", SearchToolName, `{"query":"restaurant near University of Washington"}`)}},
		llm.ChatResponse{Content: "Here are a few places in Seattle."},
	)
	f.geocoder.delay = time.Second

	reply := f.agent.Respond(context.Background(), nil, "restaurant near University of Washington")
	assert.NotEmpty(t, reply.Answer)
	assert.False(t, reply.Degraded)

	geoResult := decodeResult(t, f.llm.calls[1][len(f.llm.calls[1])-1])
	assert.Equal(t, StatusError, geoResult.Status)
	require.NotNil(t, geoResult.Error)
	assert.Equal(t, KindProviderUnavailable, geoResult.Error.Kind)
	assert.NotContains(t, geoResult.Error.Message, "University")

	require.Len(t, f.backend.bodies, 1)
	_, hasGeo := f.backend.geoFilter(0)
	assert.False(t, hasGeo)
}

func TestRespondDropsUngroundedCoordinates(t *testing.T) {
	f := newFixture(t, time.Second,
		llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("c1", SearchToolName, `{"query":"sushi","lat":40.7,"lon":-74.0}`)}},
		llm.ChatResponse{Content: "ok"},
	)

	f.agent.Respond(context.Background(), nil, "sushi")
	require.Len(t, f.backend.bodies, 1)
	_, hasGeo := f.backend.geoFilter(0)
	assert.False(t, hasGeo)
}

func TestRespondUnknownToolIsMalformed(t *testing.T) {
	f := newFixture(t, time.Second,
		llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("c1", "web_search", `{}`)}},
		llm.ChatResponse{Content: "I can only search restaurants."},
	)

	reply := f.agent.Respond(context.Background(), nil, "weather?")
	assert.Equal(t, "I can only search restaurants.", reply.Answer)
	res := decodeResult(t, f.llm.toolMessages()[0])
	assert.Equal(t, KindMalformedInput, res.Error.Kind)
}

func TestRespondModelFailureFallsBack(t *testing.T) {
	f := newFixture(t, time.Second)
	f.llm.err = errors.Wrap(domain.ErrProviderUnavailable, "503")

	reply := f.agent.Respond(context.Background(), nil, "sushi")
	assert.Equal(t, Reply{Answer: FallbackAnswer, Degraded: true}, reply)
	assert.Equal(t, StateIdle, f.states[len(f.states)-1])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metricsTurns("degraded")))
}

func TestRespondIterationLimitRequestsFinalAnswer(t *testing.T) {
	loop := llm.ChatResponse{ToolCalls: []llm.ToolCall{toolCall("c", GeocodeToolName, `{"location":"Nowhere"}`)}}
	f := newFixture(t, time.Second, loop, loop, loop, loop, llm.ChatResponse{Content: "Sorry, I could not find that place."})

	reply := f.agent.Respond(context.Background(), nil, "food in Nowhere")
	assert.Equal(t, "Sorry, I could not find that place.", reply.Answer)
	require.Len(t, f.llm.toolsSeen, 5)
	assert.Zero(t, f.llm.toolsSeen[4])
	assert.Len(t, f.geocoder.calls, 4)
}

func TestRespondSendsHistory(t *testing.T) {
	f := newFixture(t, time.Second, llm.ChatResponse{Content: "Sure"})
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "Hi"},
		{Role: domain.RoleAssistant, Content: "Hello Husky"},
	}
	f.agent.Respond(context.Background(), history, "more please")

	sent := f.llm.calls[0]
	require.Len(t, sent, 4)
	assert.Equal(t, llm.Message{Role: llm.RoleSystem, Content: "be helpful"}, sent[0])
	assert.Equal(t, llm.RoleAssistant, sent[2].Role)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "more please"}, sent[3])
}

func TestRespondCancelledContext(t *testing.T) {
	f := newFixture(t, time.Second, llm.ChatResponse{Content: "never"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reply := f.agent.Respond(ctx, nil, "sushi")
	assert.True(t, reply.Degraded)
	assert.Empty(t, f.llm.calls)
}

func (f *fixture) metricsTurns(outcome string) prometheus.Collector {
	return f.metrics.TurnCounter(outcome)
}
