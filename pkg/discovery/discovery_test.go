package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	instance, err := ParseAddr("order-service", "10.0.0.7:50052")
	require.NoError(t, err)
	assert.Equal(t, &ServiceInstance{Name: "order-service", Host: "10.0.0.7", Port: 50052}, instance)
	assert.Equal(t, "10.0.0.7:50052", instance.Addr())

	v6, err := ParseAddr("order-service", "[::1]:9000")
	require.NoError(t, err)
	assert.Equal(t, "::1", v6.Host)
	assert.Equal(t, "[::1]:9000", v6.Addr())

	for _, bad := range []string{"", "10.0.0.7", "host:http", "host:0", "host:70000"} {
		_, err := ParseAddr("order-service", bad)
		assert.Error(t, err, bad)
	}
}

func TestInstanceKey(t *testing.T) {
	key := instanceKey("/freshmart/services/", &ServiceInstance{Name: "order-service", Host: "127.0.0.1", Port: 50052})
	assert.Equal(t, "/freshmart/services/order-service/127.0.0.1:50052", key)
}
