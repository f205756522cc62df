package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/acolita/shellconn/internal/config"
	"github.com/acolita/shellconn/internal/errors"
	"github.com/acolita/shellconn/internal/testing/fakes/fakechannel"
	"github.com/acolita/shellconn/internal/testing/fakes/fakeclock"
	"github.com/acolita/shellconn/internal/testing/fakes/faketransport"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *faketransport.Connector) {
	t.Helper()
	connector := faketransport.NewConnector()
	clock := fakeclock.New(epoch)
	base := []ManagerOption{
		WithConnector(connector),
		WithManagerClock(clock),
		WithLogger(discardLogger()),
	}
	m := NewManager(append(base, opts...)...)
	t.Cleanup(func() { m.Close() })
	return m, connector
}

func testConfig(id string) config.ConnectionConfig {
	return config.ConnectionConfig{
		ID:         id,
		Name:       "box-" + id,
		Host:       "test",
		Port:       22,
		Username:   "u",
		Password:   "p",
		AuthMethod: config.AuthPassword,
	}
}

func TestManager_Connect(t *testing.T) {
	m, connector := newTestManager(t)

	id, err := m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)
	assert.Equal(t, "web", id)

	st, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, st)

	sess, err := m.Session(id)
	require.NoError(t, err)
	assert.Equal(t, faketransport.DefaultPrompt, sess.Banner())
	assert.Equal(t, config.DefaultPromptConfig(), sess.cfg.Prompt, "unset prompt config gets defaults")

	conns := m.ListConnections()
	require.Len(t, conns, 1)
	assert.Empty(t, conns[0].Password, "listed configs are redacted")
	assert.Equal(t, 1, m.ConnectedCount())

	tr := connector.Transports()
	require.Len(t, tr, 1)
	assert.Len(t, tr[0].Channels(), 1, "one shell per session")
	assert.Equal(t, "xterm", tr[0].Requests()[0].Term)
}

func TestManager_ConnectAssignsUUID(t *testing.T) {
	m, _ := newTestManager(t)

	cfg := testConfig("")
	id, err := m.Connect(context.Background(), cfg)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)

	m2, _ := newTestManager(t, WithIDGenerator(func() string { return "fixed" }))
	id, err = m2.Connect(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)
}

func TestManager_ConnectConfigInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.ConnectionConfig)
	}{
		{"empty name", func(c *config.ConnectionConfig) { c.Name = "" }},
		{"empty host", func(c *config.ConnectionConfig) { c.Host = " " }},
		{"empty username", func(c *config.ConnectionConfig) { c.Username = "" }},
		{"zero port", func(c *config.ConnectionConfig) { c.Port = 0 }},
		{"missing password", func(c *config.ConnectionConfig) { c.Password = "" }},
		{"missing key", func(c *config.ConnectionConfig) { c.AuthMethod = config.AuthPrivateKey }},
		{"both without credentials", func(c *config.ConnectionConfig) {
			c.AuthMethod = config.AuthBoth
			c.Password = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, connector := newTestManager(t)
			cfg := testConfig("bad")
			tt.mutate(&cfg)

			_, err := m.Connect(context.Background(), cfg)
			assert.ErrorIs(t, err, errors.ErrConfigInvalid)
			assert.Empty(t, connector.Configs(), "no network I/O on invalid config")

			_, err = m.GetStatus("bad")
			assert.ErrorIs(t, err, errors.ErrNotFound)
		})
	}
}

func TestManager_ConnectAlreadyConnected(t *testing.T) {
	m, connector := newTestManager(t)

	_, err := m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)

	_, err = m.Connect(context.Background(), testConfig("web"))
	assert.ErrorIs(t, err, errors.ErrAlreadyConnected)
	assert.Len(t, connector.Configs(), 1, "AlreadyConnected has no side effects")

	st, _ := m.GetStatus("web")
	assert.Equal(t, StatusConnected, st)
}

func TestManager_ConcurrentConnectSameID(t *testing.T) {
	m, connector := newTestManager(t)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Connect(context.Background(), testConfig("web"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	ok, already := 0, 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.IsCode(err, errors.CodeAlreadyConnected):
			already++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, already)
	assert.Len(t, connector.Transports(), 1)
}

func TestManager_ConnectReplacesStaleSession(t *testing.T) {
	m, connector := newTestManager(t)

	for i := 0; i < 5; i++ {
		_, err := m.Connect(context.Background(), testConfig("web"))
		require.NoError(t, err, "attempt %d", i)

		// Simulate the remote going away.
		connector.Transports()[i].SetAuthenticated(false)
		assert.False(t, m.CheckHealth("web"))

		st, err := m.GetStatus("web")
		require.NoError(t, err)
		assert.Equal(t, StateError, st.State)
	}

	tl, cl := connector.Leaks()
	assert.Equal(t, 1, tl, "only the current transport is open")
	assert.Equal(t, 1, cl, "only the current channel is open")

	require.NoError(t, m.Disconnect("web"))
	tl, cl = connector.Leaks()
	assert.Zero(t, tl)
	assert.Zero(t, cl)
	for _, tr := range connector.Transports() {
		assert.Equal(t, 1, tr.CloseCount())
	}
}

func TestManager_ConnectFailureRegistersNothing(t *testing.T) {
	m, connector := newTestManager(t)

	connector.SetError(fmt.Errorf("dial tcp: connection refused"))
	_, err := m.Connect(context.Background(), testConfig("web"))
	assert.ErrorIs(t, err, errors.ErrTransport)

	connector.SetError(errors.New(errors.CodeAuthFailed, "bad password"))
	_, err = m.Connect(context.Background(), testConfig("web"))
	assert.ErrorIs(t, err, errors.ErrAuthFailed)

	_, err = m.GetStatus("web")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Empty(t, m.ListConnections())
}

func TestManager_ShellFailureClosesTransport(t *testing.T) {
	m, connector := newTestManager(t)
	connector.SetTransportFactory(func(config.ConnectionConfig) *faketransport.Transport {
		return faketransport.New().SetOpenError(fmt.Errorf("pty refused"))
	})

	_, err := m.Connect(context.Background(), testConfig("web"))
	assert.ErrorIs(t, err, errors.ErrTransport)

	require.Len(t, connector.Transports(), 1)
	assert.Equal(t, 1, connector.Transports()[0].CloseCount())
	assert.Zero(t, m.registry.Len())
}

func TestManager_StatusConnectingWhileDialing(t *testing.T) {
	m, connector := newTestManager(t)
	gate := make(chan struct{})
	connector.SetGate(gate)

	done := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background(), testConfig("web"))
		done <- err
	}()

	assert.Eventually(t, func() bool {
		st, err := m.GetStatus("web")
		return err == nil && st == StatusConnecting
	}, 2*time.Second, 5*time.Millisecond)

	close(gate)
	require.NoError(t, <-done)

	st, err := m.GetStatus("web")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, st)
}

func TestManager_Disconnect(t *testing.T) {
	m, connector := newTestManager(t)

	assert.ErrorIs(t, m.Disconnect("nope"), errors.ErrNotFound)

	_, err := m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)
	sess, _ := m.Session("web")

	// A broken remote never blocks local cleanup.
	connector.Transports()[0].SetCloseError(fmt.Errorf("connection reset"))
	require.NoError(t, m.Disconnect("web"))

	assert.Equal(t, StatusDisconnected, sess.Status())
	_, err = m.GetStatus("web")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Equal(t, 1, connector.Transports()[0].Channels()[0].CloseCount())
}

func TestManager_DisconnectAll(t *testing.T) {
	m, connector := newTestManager(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Connect(context.Background(), testConfig(id))
		require.NoError(t, err)
	}
	connector.Transports()[1].SetCloseError(fmt.Errorf("broken pipe"))

	assert.Equal(t, 3, m.DisconnectAll())
	assert.Empty(t, m.ListConnections())

	tl, cl := connector.Leaks()
	assert.Zero(t, tl)
	assert.Zero(t, cl)
	assert.Zero(t, m.DisconnectAll())
}

func TestManager_ListConnected(t *testing.T) {
	m, connector := newTestManager(t)
	for _, id := range []string{"a", "b"} {
		_, err := m.Connect(context.Background(), testConfig(id))
		require.NoError(t, err)
	}
	connector.Transports()[0].SetAuthenticated(false)
	m.CheckHealth("a")

	connected := m.ListConnected()
	require.Len(t, connected, 1)
	assert.Equal(t, "b", connected[0].ID)
	assert.Len(t, m.ListConnections(), 2)
	assert.Equal(t, 1, m.ConnectedCount())

	infos := m.List()
	require.Len(t, infos, 2)
	assert.False(t, infos[0].Healthy)
	assert.True(t, infos[1].Healthy)
}

func TestManager_CheckHealth(t *testing.T) {
	m, connector := newTestManager(t)
	assert.False(t, m.CheckHealth("nope"))

	_, err := m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)
	assert.True(t, m.CheckHealth("web"))

	connector.Transports()[0].SetAuthenticated(false)
	assert.False(t, m.CheckHealth("web"))
}

func TestManager_ExecuteCommand(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)

	out, err := m.ExecuteCommand(context.Background(), "web", "echo hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo hi\r\nhi\r\n"+faketransport.DefaultPrompt, out)

	res, err := m.Execute(context.Background(), "web", "echo again", nil)
	require.NoError(t, err)
	assert.Equal(t, StopPrompt, res.Reason)
}

func TestManager_ExecuteUnknownOrUnusable(t *testing.T) {
	m, connector := newTestManager(t)

	_, err := m.ExecuteCommand(context.Background(), "nope", "ls", nil)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)
	connector.Transports()[0].SetAuthenticated(false)
	m.CheckHealth("web")

	_, err = m.ExecuteCommand(context.Background(), "web", "ls", nil)
	assert.ErrorIs(t, err, errors.ErrChannelUnavailable)
}

func TestManager_ExecuteEOFMarksError(t *testing.T) {
	m, connector := newTestManager(t)
	_, err := m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)

	ch := connector.Transports()[0].Channels()[0]
	ch.SetResponder(nil).SetEOFWhenEmpty(true)

	res, err := m.Execute(context.Background(), "web", "exit", nil)
	require.NoError(t, err, "read errors degrade to partial output")
	assert.Equal(t, StopReadError, res.Reason)

	st, _ := m.GetStatus("web")
	assert.Equal(t, StateError, st.State)
	assert.Contains(t, st.Reason, "EOF")

	// The errored session is replaced by the next connect.
	_, err = m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)
	st, _ = m.GetStatus("web")
	assert.Equal(t, StatusConnected, st)
}

func TestManager_ExecuteWriteFailure(t *testing.T) {
	m, connector := newTestManager(t)
	_, err := m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)
	connector.Transports()[0].Channels()[0].SetWriteError(io.ErrClosedPipe)

	_, err = m.ExecuteCommand(context.Background(), "web", "ls", nil)
	assert.ErrorIs(t, err, errors.ErrTransport)

	st, _ := m.GetStatus("web")
	assert.Equal(t, StateError, st.State)
}

func TestManager_ExecuteSerializesPerConnection(t *testing.T) {
	m, connector := newTestManager(t)
	_, err := m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)

	ch := connector.Transports()[0].Channels()[0]
	ch.SetWriteDelay(2 * time.Millisecond).SetReadDelay(time.Millisecond)

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := m.ExecuteCommand(context.Background(), "web", fmt.Sprintf("echo %d", i), nil)
			if err == nil && out != fmt.Sprintf("echo %d\r\n%d\r\n%s", i, i, faketransport.DefaultPrompt) {
				err = fmt.Errorf("caller %d got %q", i, out)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.False(t, ch.Interleaved(), "commands overlapped on the shell channel")
	assert.Len(t, ch.Lines(), callers)
}

func TestManager_ExecuteParallelAcrossConnections(t *testing.T) {
	m, connector := newTestManager(t)
	for _, id := range []string{"a", "b"} {
		_, err := m.Connect(context.Background(), testConfig(id))
		require.NoError(t, err)
	}

	gate := make(chan struct{})
	blocked := connector.Transports()[0].Channels()[0]
	blocked.SetOnRead(func() { <-gate })

	doneA := make(chan error, 1)
	go func() {
		_, err := m.ExecuteCommand(context.Background(), "a", "echo slow", nil)
		doneA <- err
	}()

	// b completes while a is stuck inside its read loop.
	out, err := m.ExecuteCommand(context.Background(), "b", "echo fast", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "fast")

	close(gate)
	require.NoError(t, <-doneA)
}

func TestManager_ExecuteWaitHonorsContext(t *testing.T) {
	m, connector := newTestManager(t)
	_, err := m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)

	gate := make(chan struct{})
	ch := connector.Transports()[0].Channels()[0]
	ch.SetOnRead(func() { <-gate })

	doneA := make(chan struct{})
	go func() {
		m.ExecuteCommand(context.Background(), "web", "echo slow", nil)
		close(doneA)
	}()

	// Wait until the first command holds the channel.
	assert.Eventually(t, func() bool { return len(ch.Lines()) == 1 }, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.ExecuteCommand(ctx, "web", "echo queued", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	<-doneA
	assert.Len(t, ch.Lines(), 1, "the canceled command never reached the channel")
}

func TestManager_Reconnect(t *testing.T) {
	m, connector := newTestManager(t)

	id, err := m.Reconnect(context.Background(), testConfig("web"))
	require.NoError(t, err, "reconnect without a session just connects")

	id2, err := m.Reconnect(context.Background(), testConfig("web"))
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	tr := connector.Transports()
	require.Len(t, tr, 2)
	assert.Equal(t, 1, tr[0].CloseCount())
	assert.Zero(t, tr[1].CloseCount())
}

func TestManager_TestConnection(t *testing.T) {
	m, connector := newTestManager(t)

	require.NoError(t, m.TestConnection(context.Background(), testConfig("trial")))
	assert.Zero(t, m.registry.Len())
	tl, cl := connector.Leaks()
	assert.Zero(t, tl)
	assert.Zero(t, cl)

	bad := testConfig("trial")
	bad.Host = ""
	assert.ErrorIs(t, m.TestConnection(context.Background(), bad), errors.ErrConfigInvalid)

	connector.SetError(fmt.Errorf("no route to host"))
	assert.ErrorIs(t, m.TestConnection(context.Background(), testConfig("trial")), errors.ErrTransport)
}

func TestManager_BannerWaitDisabled(t *testing.T) {
	m, connector := newTestManager(t, WithBannerWait(0))
	connector.SetTransportFactory(func(config.ConnectionConfig) *faketransport.Transport {
		return faketransport.New().SetChannelFactory(func() *fakechannel.Channel {
			return fakechannel.New().AddResponse("Last login: today\r\n$ ")
		})
	})

	_, err := m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)
	sess, _ := m.Session("web")
	assert.Empty(t, sess.Banner())
}

func TestManager_BannerWithoutPromptTimesOut(t *testing.T) {
	m, connector := newTestManager(t)
	connector.SetTransportFactory(func(config.ConnectionConfig) *faketransport.Transport {
		return faketransport.New().SetChannelFactory(func() *fakechannel.Channel {
			return fakechannel.New().AddResponse("Welcome to the machine\r\n")
		})
	})

	_, err := m.Connect(context.Background(), testConfig("web"))
	require.NoError(t, err)
	sess, _ := m.Session("web")
	assert.Equal(t, "Welcome to the machine\r\n", sess.Banner())
}

func TestManager_ConnectCanceledDuringBanner(t *testing.T) {
	m, connector := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connector.SetTransportFactory(func(config.ConnectionConfig) *faketransport.Transport {
		return faketransport.New().SetChannelFactory(func() *fakechannel.Channel {
			return fakechannel.New().AddResponse("Welcome\r\n").SetOnRead(cancel)
		})
	})

	id, err := m.Connect(ctx, testConfig("web"))
	require.Error(t, err)
	assert.Empty(t, id)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errors.ErrTransport)

	_, err = m.GetStatus("web")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Zero(t, m.ConnectedCount())

	transports, channels := connector.Leaks()
	assert.Zero(t, transports)
	assert.Zero(t, channels)
}
