package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Locker = (*KeyedMutex)(nil)
	_ Locker = (*RedisLocker)(nil)
)

func TestStockKey(t *testing.T) {
	assert.Equal(t, "lock:inventory:main-store:SKU-1", StockKey("main-store", "SKU-1"))
	assert.Equal(t, "lock:stockcount:cnt-1", StockCountKey("cnt-1"))
}

func TestLockerInterfaceReleasesThroughReturnedFunc(t *testing.T) {
	var l Locker = NewKeyedMutex()
	unlock, err := l.Lock(context.Background(), StockCountKey("cnt-1"), StockKey("main-store", "SKU-1"))
	require.NoError(t, err)
	require.NotNil(t, unlock)
	unlock()

	again, err := l.Lock(context.Background(), StockCountKey("cnt-1"))
	require.NoError(t, err)
	again()
	assert.Empty(t, l.(*KeyedMutex).entries)
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "k")
			require.NoError(t, err)
			defer unlock()
			now := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if now <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, now) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive)
	assert.Empty(t, m.entries)
}

func TestKeyedMutexHonorsContext(t *testing.T) {
	m := NewKeyedMutex()
	unlock, err := m.Lock(context.Background(), "a", "b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "b")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	again, err := m.Lock(context.Background(), "b", "a", "a")
	require.NoError(t, err)
	again()
	assert.Empty(t, m.entries)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	m := NewKeyedMutex()
	unlockA, err := m.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := m.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}
