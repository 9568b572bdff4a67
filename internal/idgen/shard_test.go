package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardStrategies(t *testing.T) {
	t.Parallel()

	cases := []string{"", "seller-1", "seller-2", "a-very-long-seller-identifier"}
	for _, s := range cases {
		shard := SellerShard(s)
		assert.GreaterOrEqual(t, shard, 0)
		assert.LessOrEqual(t, shard, MaxShard)
		assert.Equal(t, shard, SellerShard(s), "stable for %q", s)
	}

	assert.Equal(t, PaymentShard("buyer-1", "order-1"), PaymentShard("buyer-1", "order-1"))
	assert.Equal(t, SellerPartitionKey("seller-1"), SellerPartitionKey("seller-1"))
}
