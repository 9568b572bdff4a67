package idgen

import (
	"hash/fnv"
	"strconv"
)

const shardCount = MaxShard + 1

// PaymentShard is the coordination shard of a buyer's order. All ids of one
// checkout (payment and its payment orders) are allocated on it.
func PaymentShard(buyerID, orderID string) int {
	return hashShard(buyerID + "|" + orderID)
}

// SellerShard keeps the ledger postings of a seller on one logical shard.
func SellerShard(sellerID string) int {
	return hashShard(sellerID)
}

// SellerPartitionKey is the broker key for events that must stay ordered per seller shard.
func SellerPartitionKey(sellerID string) string {
	return "seller-" + strconv.Itoa(SellerShard(sellerID))
}

func hashShard(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % shardCount)
}
