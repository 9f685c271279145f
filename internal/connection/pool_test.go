package connection

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockManager struct {
	mock.Mock
}

func (m *mockManager) GetClientWithContext(ctx context.Context) (*ethclient.Client, error) {
	args := m.Called(ctx)
	client, _ := args.Get(0).(*ethclient.Client)
	return client, args.Error(1)
}

func (m *mockManager) HealthCheckWithContext(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockManager) MarkUnhealthy(err error) { m.Called(err) }

func (m *mockManager) CurrentURL() string { return "http://node" }

func (m *mockManager) IsConnected() bool { return m.Called().Bool(0) }

func (m *mockManager) Close() error { return m.Called().Error(0) }

func (m *mockManager) Stats() ConnectionStats { return ConnectionStats{} }

func TestPoolRoundRobin(t *testing.T) {
	a, b := &mockManager{}, &mockManager{}
	pool := NewConnectionPoolFromManagers(a, b)

	assert.Same(t, a, pool.GetManager())
	assert.Same(t, b, pool.GetManager())
	assert.Same(t, a, pool.GetManager())
}

func TestPoolGetHealthyManagerSkipsFailing(t *testing.T) {
	bad, good := &mockManager{}, &mockManager{}
	bad.On("IsConnected").Return(false)
	bad.On("HealthCheckWithContext", mock.Anything).Return(errors.New("node down"))
	good.On("IsConnected").Return(false)
	good.On("HealthCheckWithContext", mock.Anything).Return(nil)

	pool := NewConnectionPoolFromManagers(bad, good)

	manager, err := pool.GetHealthyManager(context.Background())
	require.NoError(t, err)
	assert.Same(t, good, manager)
}

func TestPoolNoHealthyManager(t *testing.T) {
	bad := &mockManager{}
	bad.On("IsConnected").Return(false)
	bad.On("HealthCheckWithContext", mock.Anything).Return(errors.New("node down"))

	pool := NewConnectionPoolFromManagers(bad)

	_, err := pool.GetHealthyManager(context.Background())
	assert.Error(t, err)
}

func TestPoolClose(t *testing.T) {
	a := &mockManager{}
	a.On("Close").Return(nil)
	pool := NewConnectionPoolFromManagers(a)

	require.NoError(t, pool.Close())
	assert.Nil(t, pool.GetManager())
	assert.Equal(t, 0, pool.Size())
	a.AssertExpectations(t)
}

func TestRSKClientClosedPool(t *testing.T) {
	a := &mockManager{}
	a.On("Close").Return(nil)
	pool := NewConnectionPoolFromManagers(a)
	require.NoError(t, pool.Close())

	client := NewRSKClient(pool, nil)
	_, err := client.BlockNumber(context.Background())
	assert.Error(t, err)
}

func TestRSKClientConnectionFailure(t *testing.T) {
	a := &mockManager{}
	a.On("GetClientWithContext", mock.Anything).Return(nil, errors.New("dial refused"))
	client := NewRSKClient(NewConnectionPoolFromManagers(a), nil)

	_, err := client.BlockNumber(context.Background())
	assert.EqualError(t, err, "dial refused")
}
