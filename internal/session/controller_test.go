package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augustorsouza/whatsapp-web-server/pkg/whatsapp"
)

type fakeClient struct {
	mu           sync.Mutex
	initErr      error
	destroyDelay time.Duration
	destroyed    int
}

func (f *fakeClient) Initialize(ctx context.Context) error { return f.initErr }

func (f *fakeClient) Groups(ctx context.Context) ([]whatsapp.Group, error) { return nil, nil }

func (f *fakeClient) SendText(ctx context.Context, chatJID string, text string) (string, error) {
	return "", nil
}

func (f *fakeClient) Destroy(ctx context.Context) error {
	if f.destroyDelay > 0 {
		time.Sleep(f.destroyDelay)
	}
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) destroyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

type fakeFactory struct {
	mu         sync.Mutex
	builds     int
	buildDelay time.Duration
	err        error
	clientInit error
	clients    []*fakeClient
}

func (f *fakeFactory) new(ctx context.Context, handler whatsapp.EventHandler) (whatsapp.Client, error) {
	if f.buildDelay > 0 {
		time.Sleep(f.buildDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	if f.err != nil {
		return nil, f.err
	}
	client := &fakeClient{initErr: f.clientInit}
	f.clients = append(f.clients, client)
	return client, nil
}

func (f *fakeFactory) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}

func (f *fakeFactory) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		MaxRestartAttempts: 3,
		RestartDelay:       5 * time.Millisecond,
		DestroyWait:        100 * time.Millisecond,
		DisconnectGrace:    0,
		QRPath:             filepath.Join(t.TempDir(), "qr.png"),
	}
}

func TestReadyResetsAttemptsAndClearsArtifact(t *testing.T) {
	factory := &fakeFactory{}
	c := New(testConfig(t), factory.new)

	require.True(t, c.Restart(false))
	require.Equal(t, 1, c.Status().RestartAttempts)

	c.HandleEvent(whatsapp.EventQR{Code: "pairing-code"})
	st := c.Status()
	require.True(t, st.QRAvailable)
	path, available := c.QRPath()
	require.True(t, available)
	_, err := os.Stat(path)
	require.NoError(t, err)

	c.HandleEvent(whatsapp.EventReady{})

	st = c.Status()
	assert.True(t, st.Ready)
	assert.Equal(t, 0, st.RestartAttempts)
	assert.False(t, st.QRAvailable)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDisconnectSchedulesRestart(t *testing.T) {
	factory := &fakeFactory{}
	c := New(testConfig(t), factory.new)

	c.HandleEvent(whatsapp.EventDisconnected{Reason: "stream error"})

	require.Eventually(t, func() bool {
		return factory.buildCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.False(t, c.Status().Ready)
	assert.Equal(t, 1, c.Status().RestartAttempts)
}

func TestRestartAttemptsAreBounded(t *testing.T) {
	factory := &fakeFactory{err: errors.New("browser launch failed")}
	c := New(testConfig(t), factory.new)

	c.Restart(false)

	require.Eventually(t, func() bool {
		return c.Status().Exhausted
	}, time.Second, 5*time.Millisecond)

	st := c.Status()
	assert.Equal(t, 3, st.RestartAttempts)

	// Automatic triggers are no-ops once exhausted.
	assert.False(t, c.TriggerRestart())
	c.HandleEvent(whatsapp.EventDisconnected{Reason: "still down"})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, c.Status().RestartAttempts)
}

func TestManualRestartResetsExhaustion(t *testing.T) {
	factory := &fakeFactory{err: errors.New("browser launch failed")}
	c := New(testConfig(t), factory.new)

	c.Restart(false)
	require.Eventually(t, func() bool {
		return c.Status().Exhausted
	}, time.Second, 5*time.Millisecond)

	factory.setErr(nil)
	require.True(t, c.Restart(true))

	st := c.Status()
	assert.False(t, st.Exhausted)
	assert.Equal(t, 1, st.RestartAttempts)
}

func TestConcurrentRestartsCollapse(t *testing.T) {
	factory := &fakeFactory{buildDelay: 50 * time.Millisecond}
	c := New(testConfig(t), factory.new)

	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Restart(false) {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, 1, factory.buildCount())
	assert.Equal(t, 1, c.Status().RestartAttempts)
}

func TestManualRestartDuringInFlightIsAcknowledged(t *testing.T) {
	factory := &fakeFactory{buildDelay: 100 * time.Millisecond}
	c := New(testConfig(t), factory.new)

	go c.Restart(false)
	require.Eventually(t, func() bool {
		return c.Status().Restarting
	}, time.Second, time.Millisecond)

	assert.False(t, c.Restart(true))
	assert.Equal(t, 1, c.Status().RestartAttempts)
}

func TestDisconnectWithinGraceWindowIsSuppressed(t *testing.T) {
	cfg := testConfig(t)
	cfg.DisconnectGrace = time.Hour
	factory := &fakeFactory{}
	c := New(cfg, factory.new)

	require.NoError(t, c.Initialize(context.Background()))
	require.Equal(t, 1, factory.buildCount())

	c.HandleEvent(whatsapp.EventDisconnected{Reason: "young handle hiccup"})
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, 1, factory.buildCount())
	assert.Equal(t, 0, c.Status().RestartAttempts)
	assert.False(t, c.Status().Restarting)
}

func TestSessionLostDropsReadinessAndTriggersOneRestart(t *testing.T) {
	factory := &fakeFactory{}
	c := New(testConfig(t), factory.new)

	c.HandleEvent(whatsapp.EventReady{})
	require.True(t, c.Ready())

	c.SessionLost()
	assert.False(t, c.Ready())

	require.Eventually(t, func() bool {
		return factory.buildCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestShutdownIsIdempotent(t *testing.T) {
	factory := &fakeFactory{}
	c := New(testConfig(t), factory.new)

	require.NoError(t, c.Initialize(context.Background()))
	client := factory.clients[0]

	ctx := context.Background()
	require.NoError(t, c.Shutdown(ctx))
	require.NoError(t, c.Shutdown(ctx))

	assert.Equal(t, 1, client.destroyCount())
	assert.False(t, c.TriggerRestart())
	assert.False(t, c.Restart(true))
}

func TestAuthFailureDowngradesReadiness(t *testing.T) {
	factory := &fakeFactory{}
	c := New(testConfig(t), factory.new)

	c.HandleEvent(whatsapp.EventReady{})
	require.True(t, c.Ready())

	c.HandleEvent(whatsapp.EventAuthFailure{Reason: "logged out"})
	assert.False(t, c.Ready())

	// Auth failures do not spin the restart loop on their own.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, factory.buildCount())
}
