package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augustorsouza/whatsapp-web-server/pkg/whatsapp"
)

type fakeSession struct {
	mu           sync.Mutex
	ready        bool
	client       whatsapp.Client
	lostCalls    int
	restartCalls int
}

func (s *fakeSession) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeSession) Client() whatsapp.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *fakeSession) SessionLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	s.lostCalls++
}

func (s *fakeSession) TriggerRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartCalls++
	return true
}

type scriptedClient struct {
	groups      []whatsapp.Group
	groupsErr   error
	groupsCalls int
	sendErrs    []error
	sendCalls   int
}

func (c *scriptedClient) Initialize(ctx context.Context) error { return nil }

func (c *scriptedClient) Groups(ctx context.Context) ([]whatsapp.Group, error) {
	c.groupsCalls++
	if c.groupsErr != nil {
		return nil, c.groupsErr
	}
	return c.groups, nil
}

func (c *scriptedClient) SendText(ctx context.Context, chatJID string, text string) (string, error) {
	attempt := c.sendCalls
	c.sendCalls++
	if attempt < len(c.sendErrs) && c.sendErrs[attempt] != nil {
		return "", c.sendErrs[attempt]
	}
	return "3EB0MSGID", nil
}

func (c *scriptedClient) Destroy(ctx context.Context) error { return nil }

func newTestDispatcher(client *scriptedClient) (*Dispatcher, *fakeSession) {
	session := &fakeSession{ready: true, client: client}
	d := &Dispatcher{
		session:    session,
		maxRetries: 2,
		retryDelay: time.Millisecond,
	}
	return d, session
}

func TestDispatchByIDSkipsChatListing(t *testing.T) {
	client := &scriptedClient{}
	d, _ := newTestDispatcher(client)

	result, err := d.Dispatch(context.Background(), SendRequest{
		GroupID: "123456789@g.us",
		Message: "hi",
	})

	require.NoError(t, err)
	assert.Equal(t, 0, client.groupsCalls)
	assert.Equal(t, "123456789@g.us", result.GroupID)
	assert.Equal(t, 1, result.Attempts)
	assert.NotEmpty(t, result.MessageID)
}

func TestDispatchByNameExactMatch(t *testing.T) {
	client := &scriptedClient{
		groups: []whatsapp.Group{
			{JID: "111@g.us", Name: "Team "},
			{JID: "222@g.us", Name: "Team"},
		},
	}
	d, _ := newTestDispatcher(client)

	result, err := d.Dispatch(context.Background(), SendRequest{
		GroupName: "Team",
		Message:   "hi",
	})

	require.NoError(t, err)
	assert.Equal(t, "222@g.us", result.GroupID)
	assert.Equal(t, "Team", result.GroupName)
}

func TestDispatchByNameNotFoundListsCandidates(t *testing.T) {
	client := &scriptedClient{
		groups: []whatsapp.Group{
			{JID: "111@g.us", Name: "Family"},
			{JID: "222@g.us", Name: "Work"},
		},
	}
	d, _ := newTestDispatcher(client)

	_, err := d.Dispatch(context.Background(), SendRequest{
		GroupName: "Friends",
		Message:   "hi",
	})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Friends", notFound.Name)
	assert.Equal(t, []string{"Family", "Work"}, notFound.Candidates)
	assert.Equal(t, 0, client.sendCalls)
}

func TestDispatchNotReady(t *testing.T) {
	client := &scriptedClient{}
	d, session := newTestDispatcher(client)
	session.ready = false

	_, err := d.Dispatch(context.Background(), SendRequest{
		GroupID: "123@g.us",
		Message: "hi",
	})

	require.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 1, session.restartCalls)
	assert.Equal(t, 0, client.sendCalls)
}

func TestDispatchSessionFatalAbortsRetries(t *testing.T) {
	client := &scriptedClient{
		sendErrs: []error{errors.New("Protocol error: Session closed. Most likely the page has been closed")},
	}
	d, session := newTestDispatcher(client)

	_, err := d.Dispatch(context.Background(), SendRequest{
		GroupID: "123@g.us",
		Message: "hi",
	})

	var lost *SessionLostError
	require.ErrorAs(t, err, &lost)
	assert.Equal(t, 1, lost.Attempt)
	assert.True(t, lost.WillRetry)
	assert.Equal(t, 1, client.sendCalls, "no second attempt against a known-bad client")
	assert.Equal(t, 1, session.lostCalls)
	assert.False(t, session.Ready())
}

func TestDispatchTransientErrorRetriesThenSucceeds(t *testing.T) {
	client := &scriptedClient{
		sendErrs: []error{errors.New("temporary glitch"), nil},
	}
	d, session := newTestDispatcher(client)

	result, err := d.Dispatch(context.Background(), SendRequest{
		GroupID: "123@g.us",
		Message: "hi",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 0, session.lostCalls)
}

func TestDispatchExhaustsRetries(t *testing.T) {
	client := &scriptedClient{
		sendErrs: []error{errors.New("glitch one"), errors.New("glitch two")},
	}
	d, _ := newTestDispatcher(client)

	_, err := d.Dispatch(context.Background(), SendRequest{
		GroupID: "123@g.us",
		Message: "hi",
	})

	var failed *SendFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 2, failed.Attempts)
	assert.ErrorContains(t, failed.Err, "glitch two")
}

func TestDispatchFatalChatListingMarksSessionLost(t *testing.T) {
	client := &scriptedClient{groupsErr: whatsapp.ErrNotConnected}
	d, session := newTestDispatcher(client)

	_, err := d.Dispatch(context.Background(), SendRequest{
		GroupName: "Team",
		Message:   "hi",
	})

	var lost *SessionLostError
	require.ErrorAs(t, err, &lost)
	assert.Equal(t, 1, session.lostCalls)
	assert.Equal(t, 0, client.sendCalls)
}
