package tenant

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ocx/crm-automation/internal/config"
)

func TestConnFailureTracking(t *testing.T) {
	c := &Conn{TenantCode: "acme"}
	assert.Equal(t, 1, c.recordFailure())
	assert.Equal(t, 2, c.recordFailure())
	c.recordSuccess()
	assert.Equal(t, 1, c.recordFailure())
}

func TestConnFailureTrackingConcurrent(t *testing.T) {
	c := &Conn{TenantCode: "acme"}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.recordFailure()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, c.failures)
}

func TestRegistryEvictOnUnknownTenantIsNoop(t *testing.T) {
	r := NewRegistry(nil, nil, config.TenantConnConfig{
		ServerSelectionTimeoutSec: 30,
		SocketTimeoutSec:          45,
		PoolSize:                  5,
		EvictAfterFailures:        3,
	})
	r.Evict("does-not-exist")
	r.ReportFailure("does-not-exist")
	r.ReportSuccess("does-not-exist")
}
