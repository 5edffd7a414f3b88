// File: facade/application_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/reactor"
)

func newTestApp(t *testing.T, workers int) *Application {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = workers
	app, err := New(cfg)
	require.NoError(t, err)
	return app
}

// runApp drives Run on its own goroutine and tears the application
// down at test end.
func runApp(t *testing.T, app *Application) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- app.Run() }()
	t.Cleanup(func() {
		app.Exit()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("application did not stop")
		}
	})
}

func TestRunInvokesHooksInOrder(t *testing.T) {
	app := newTestApp(t, 0)

	var order []string
	app.SetOnInit(func() error {
		order = append(order, "init")
		return nil
	})
	app.SetOnExit(func() { order = append(order, "exit") })

	app.BaseLoop().Execute(func() { app.Exit() })
	require.NoError(t, app.Run())
	assert.Equal(t, []string{"init", "exit"}, order)
	assert.True(t, app.IsExit())
}

func TestInitFailureAbortsRun(t *testing.T) {
	app := newTestApp(t, 2)

	exited := false
	app.SetOnInit(func() error { return fmt.Errorf("boom") })
	app.SetOnExit(func() { exited = true })

	err := app.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, exited)
	assert.True(t, app.IsExit())
}

func TestRunTwiceRejected(t *testing.T) {
	app := newTestApp(t, 0)
	app.BaseLoop().Execute(func() { app.Exit() })
	require.NoError(t, app.Run())
	assert.Error(t, app.Run())
}

func TestNumWorkersCountsBaseLoop(t *testing.T) {
	app := newTestApp(t, 3)
	assert.Equal(t, 4, app.NumWorkers())

	app.SetNumWorkers(0)
	assert.Equal(t, 1, app.NumWorkers())

	assert.Panics(t, func() { app.SetNumWorkers(-1) })
	assert.Panics(t, func() { app.SetNumWorkers(MaxWorkers + 1) })
}

func TestNextRoundRobinsOverWorkers(t *testing.T) {
	app := newTestApp(t, 2)

	// Before Run the base loop adopts everything.
	assert.Same(t, app.BaseLoop(), app.Next())

	runApp(t, app)
	require.Eventually(t, func() bool {
		return app.state.Load() == stateStarted
	}, 2*time.Second, 5*time.Millisecond)

	seen := map[*reactor.EventLoop]int{}
	for i := 0; i < 6; i++ {
		seen[app.Next()]++
	}
	assert.Len(t, seen, 2)
	for l, n := range seen {
		assert.NotSame(t, app.BaseLoop(), l)
		assert.Equal(t, 3, n)
	}
}

func TestListenAcceptsAndCounts(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(probe.Addr().(*net.TCPAddr).Port)
	probe.Close()

	app := newTestApp(t, 1)
	runApp(t, app)

	addr, err := reactor.NewSocketAddr("127.0.0.1", port)
	require.NoError(t, err)

	bound := make(chan bool, 1)
	conns := make(chan *reactor.Connection, 1)
	app.Listen(addr, func(c *reactor.Connection) {
		conns <- c
	}, func(ok bool, _ reactor.SocketAddr) {
		bound <- ok
	})
	select {
	case ok := <-bound:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("bind never resolved")
	}

	client, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	select {
	case <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never accepted")
	}
	assert.Equal(t, uint64(1), app.accepted.Load())

	// The default handler still echoes through the facade.
	client.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = client.Write([]byte("HI"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "HI", string(buf))
}

func TestBindFailureReported(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	app := newTestApp(t, 0)
	runApp(t, app)

	// The port is already owned by the stdlib listener without
	// reuse-port, so the second bind must fail.
	addr, err := reactor.NewSocketAddr("127.0.0.1", port)
	require.NoError(t, err)

	bound := make(chan bool, 1)
	app.Listen(addr, nil, func(ok bool, _ reactor.SocketAddr) { bound <- ok })
	select {
	case ok := <-bound:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("bind never resolved")
	}
}

func TestExitIsIdempotent(t *testing.T) {
	app := newTestApp(t, 1)
	runApp(t, app)

	app.Exit()
	app.Exit()
	assert.True(t, app.IsExit())
}

func TestPrometheusRegisterAndScrape(t *testing.T) {
	app := newTestApp(t, 1)
	runApp(t, app)

	registry := prometheus.NewRegistry()
	require.NoError(t, app.PrometheusRegister(registry))

	require.Eventually(t, func() bool {
		return app.state.Load() == stateStarted
	}, 2*time.Second, 5*time.Millisecond)

	families, err := registry.Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if g := m.GetGauge(); g != nil {
				byName[mf.GetName()] += g.GetValue()
			}
			if c := m.GetCounter(); c != nil {
				byName[mf.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, byName["hioload_loops"])
	assert.Contains(t, byName, "hioload_loop_tasks_total")
	assert.Contains(t, byName, "hioload_accepted_connections_total")
}
