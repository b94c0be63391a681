package rediskey

import "fmt"

// Loyalty keys (global convention across services)
const (
	RewardPrefix = "loyalty:rewards"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildRewardCatalogKey returns "loyalty:rewards:active"
func BuildRewardCatalogKey() string {
	return NamespaceKey(RewardPrefix, "active")
}
