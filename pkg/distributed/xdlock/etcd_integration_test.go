//go:build integration

package xdlock

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func setupEtcd(t *testing.T) *clientv3.Client {
	t.Helper()
	ctx := context.Background()

	endpoints := os.Getenv("XJOBSTORE_ETCD_ENDPOINTS")
	if endpoints == "" {
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        "quay.io/coreos/etcd:v3.5.17",
				ExposedPorts: []string{"2379/tcp"},
				Cmd: []string{
					"etcd",
					"--listen-client-urls=http://0.0.0.0:2379",
					"--advertise-client-urls=http://0.0.0.0:2379",
				},
				WaitingFor: wait.ForListeningPort("2379/tcp").WithStartupTimeout(60 * time.Second),
			},
			Started: true,
		})
		if err != nil {
			t.Skipf("etcd container unavailable: %v", err)
		}
		t.Cleanup(func() { _ = container.Terminate(context.Background()) })

		host, err := container.Host(ctx)
		require.NoError(t, err)
		port, err := container.MappedPort(ctx, "2379")
		require.NoError(t, err)
		endpoints = host + ":" + port.Port()
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(endpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEtcdLocker_Integration(t *testing.T) {
	ctx := context.Background()
	client := setupEtcd(t)
	prefix := "/xjobstore-test/" + t.Name() + "/"

	a, err := NewEtcdLocker(client, WithEtcdTTL(5), WithEtcdKeyPrefix(prefix))
	require.NoError(t, err)
	b, err := NewEtcdLocker(client, WithEtcdTTL(5), WithEtcdKeyPrefix(prefix))
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	require.NoError(t, a.Health(ctx))

	h, err := a.TryLock(ctx, TriggerAccess, time.Second)
	require.NoError(t, err)
	require.NotNil(t, h)
	require.NoError(t, h.Extend(ctx))

	other, err := b.TryLock(ctx, TriggerAccess, time.Second)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, h.Unlock(ctx))
	other, err = b.TryLock(ctx, TriggerAccess, time.Second)
	require.NoError(t, err)
	require.NotNil(t, other)
	require.NoError(t, other.Unlock(ctx))

	// 关闭 Session 释放其持有的全部锁
	h, err = a.TryLock(ctx, StateAccess, time.Second)
	require.NoError(t, err)
	require.NotNil(t, h)
	require.NoError(t, a.Close(ctx))
	assert.Eventually(t, func() bool {
		return h.Extend(ctx) == ErrNotLocked
	}, 5*time.Second, 50*time.Millisecond)

	other, err = b.TryLock(ctx, StateAccess, time.Second)
	require.NoError(t, err)
	require.NotNil(t, other)
	require.NoError(t, other.Unlock(ctx))
}

func TestEtcdLocker_WithManager(t *testing.T) {
	ctx := context.Background()
	client := setupEtcd(t)

	locker, err := NewEtcdLocker(client, WithEtcdTTL(5), WithEtcdKeyPrefix("/xjobstore-test/"+t.Name()+"/"))
	require.NoError(t, err)
	defer func() { _ = locker.Close(ctx) }()

	m, err := NewManager(locker, WithLease(3*time.Second), WithAcquireTimeout(time.Second))
	require.NoError(t, err)

	lctx, g, err := m.Acquire(ctx, StateAccess)
	require.NoError(t, err)
	_, _, err = m.Acquire(lctx, StateAccess)
	assert.ErrorIs(t, err, ErrReentrant)
	require.NoError(t, g.Release(ctx))
	require.NoError(t, m.Close(ctx))
}
