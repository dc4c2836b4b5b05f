package session

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitechat/internal/domain"
	"bitechat/internal/metrics"
)

func TestCreateAndGet(t *testing.T) {
	store := NewStore(time.Hour, time.Hour, nil, nil)
	sess := store.Create()

	_, err := uuid.Parse(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.Filters().Len())

	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)

	_, ok = store.Get("missing")
	assert.False(t, ok)
	assert.NotEqual(t, sess.ID, store.Create().ID)
}

func TestHistoryIsCopied(t *testing.T) {
	sess := NewStore(time.Hour, time.Hour, nil, nil).Create()
	sess.Append(domain.Message{Role: domain.RoleUser, Content: "hi"}, domain.Message{Role: domain.RoleAssistant, Content: "hello"})

	h := sess.History()
	require.Len(t, h, 2)
	h[0].Content = "changed"
	assert.Equal(t, "hi", sess.History()[0].Content)
}

func TestIdleSessionsAreEvicted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := NewStore(200*time.Millisecond, time.Hour, m, nil)

	idle := store.Create()
	active := store.Create()
	assert.Equal(t, 2, store.Len())

	time.Sleep(120 * time.Millisecond)
	_, ok := store.Get(active.ID)
	require.True(t, ok)
	time.Sleep(120 * time.Millisecond)

	store.Sweep()
	_, ok = store.Get(idle.ID)
	assert.False(t, ok)
	_, ok = store.Get(active.ID)
	assert.True(t, ok)

	expected := `
# HELP bitechat_sessions_active Sessions currently held in memory.
# TYPE bitechat_sessions_active gauge
bitechat_sessions_active 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bitechat_sessions_active"))
}

func TestDelete(t *testing.T) {
	store := NewStore(time.Hour, time.Hour, nil, nil)
	sess := store.Create()
	store.Delete(sess.ID)
	_, ok := store.Get(sess.ID)
	assert.False(t, ok)
}

func TestExpiredSessionIsNotRevivedByGet(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := NewStore(50*time.Millisecond, time.Hour, metrics.New(reg), nil)
	sess := store.Create()

	time.Sleep(80 * time.Millisecond)
	_, ok := store.Get(sess.ID)
	assert.False(t, ok)

	store.Sweep()
	assert.Equal(t, 0, store.Len())
	_, ok = store.Get(sess.ID)
	assert.False(t, ok)

	expected := `
# HELP bitechat_sessions_active Sessions currently held in memory.
# TYPE bitechat_sessions_active gauge
bitechat_sessions_active 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bitechat_sessions_active"))
}
