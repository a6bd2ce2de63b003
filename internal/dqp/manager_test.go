package dqp

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/metadata"
	"github.com/roach88/fedq/internal/testutil"
)

func TestAtomicRequestIDString(t *testing.T) {
	assert.Equal(t, "req-1.4.0", AtomicRequestID{RequestID: "req-1", NodeID: 4}.String())
}

func TestManagerCapabilitiesComputedOnce(t *testing.T) {
	snap := capability.NewBuilder("fake").Enable(capability.CriteriaCompareEQ).Build()
	f := &testutil.FakeFactory{Caps: snap}
	m := startManager(t, f)

	var wg sync.WaitGroup
	got := make([]*capability.Snapshot, 32)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Capabilities(context.Background())
			assert.NoError(t, err)
			got[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.CapabilityCalls())
	for _, s := range got {
		assert.Same(t, snap, s)
	}
}

func TestManagerCapabilitiesErrorIsNotCached(t *testing.T) {
	f := &testutil.FakeFactory{CapsErr: errors.New("source down")}
	m := startManager(t, f)

	_, err := m.Capabilities(context.Background())
	require.Error(t, err)
	_, err = m.Capabilities(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, f.CapabilityCalls())
}

func TestManagerRegister(t *testing.T) {
	f := &testutil.FakeFactory{}
	m := startManager(t, f)

	w, err := m.Register(Request{ID: reqID(1), Command: oneColumnQuery()})
	require.NoError(t, err)
	got, ok := m.WorkItem(reqID(1))
	require.True(t, ok)
	assert.Same(t, w, got)
	assert.Equal(t, Created, w.State())

	assert.Panics(t, func() {
		_, _ = m.Register(Request{ID: reqID(1), Command: oneColumnQuery()})
	})

	_, err = m.Register(Request{ID: reqID(2)})
	require.Error(t, err)
	assert.True(t, IsExecutionError(err))
}

func TestManagerStopCancelsLiveWork(t *testing.T) {
	f := &testutil.FakeFactory{Script: rowsOf(1)}
	m := startManager(t, f)
	w := executeQuery(t, m, Request{ID: reqID(1)})

	require.NoError(t, m.Stop())
	assert.Equal(t, 0, m.Live())
	assert.Equal(t, Closed, w.State())
	assert.Equal(t, 1, f.Executions()[0].Cancels())
	assert.Equal(t, 1, f.Executions()[0].Closes())
	assert.True(t, f.Stopped())
}

func repoCatalog(t *testing.T) *metadata.Catalog {
	t.Helper()
	cat := metadata.NewCatalog()
	require.NoError(t, cat.AddModel(&metadata.Model{Name: "pg", Connector: "orders"}))
	require.NoError(t, cat.AddModel(&metadata.Model{Name: "views", Virtual: true}))
	require.NoError(t, cat.AddModel(&metadata.Model{Name: "lost", Connector: "nowhere"}))
	return cat
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	snap := capability.NewBuilder("orders").Enable(capability.CriteriaCompareEQ).Build()
	f := &testutil.FakeFactory{Caps: snap}

	repo := NewRepository(repoCatalog(t))
	var bound Binding
	require.NoError(t, repo.RegisterType("fake", func(b Binding) (connector.ExecutionFactory, error) {
		bound = b
		return f, nil
	}))
	require.Error(t, repo.RegisterType("fake", nil))

	m, err := repo.Deploy(ctx, Binding{Name: "orders", Type: "fake", DSN: "mem"})
	require.NoError(t, err)
	assert.Equal(t, "mem", bound.DSN)
	assert.True(t, f.Started())
	assert.Equal(t, []string{"orders"}, repo.Names())

	_, err = repo.Deploy(ctx, Binding{Name: "orders", Type: "fake"})
	require.Error(t, err)
	_, err = repo.Deploy(ctx, Binding{Name: "other", Type: "mysql"})
	require.Error(t, err)

	got, err := repo.ManagerForModel("pg")
	require.NoError(t, err)
	assert.Same(t, m, got)

	s, err := repo.Find(ctx, "pg")
	require.NoError(t, err)
	assert.Same(t, snap, s)

	_, err = repo.Find(ctx, "views")
	assert.Error(t, err)
	_, err = repo.Find(ctx, "lost")
	assert.Error(t, err)
	_, err = repo.Find(ctx, "missing")
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	require.NoError(t, repo.StopAll())
	assert.True(t, f.Stopped())
	_, ok := repo.Manager("orders")
	assert.False(t, ok)
}

func TestRepositoryUndeploy(t *testing.T) {
	f := &testutil.FakeFactory{}
	repo := NewRepository(nil)
	require.NoError(t, repo.Add(context.Background(), NewManager("a", f)))

	require.NoError(t, repo.Undeploy("a"))
	assert.True(t, f.Stopped())
	assert.Error(t, repo.Undeploy("a"))
}
