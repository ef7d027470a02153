package models

// CacheStats reports cache performance across both tiers.
type CacheStats struct {
	MemoryEntries     int   `json:"memory_entries"`
	PersistentEntries int64 `json:"persistent_entries"`
	Hits              int64 `json:"hits"`
	Misses            int64 `json:"misses"`
	Promotions        int64 `json:"promotions"`
}
