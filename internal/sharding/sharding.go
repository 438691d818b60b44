package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of partitions for the system. Subjects are
// sharded so sinks can scale out without re-partitioning existing streams.
const ShardCount = 1024

// GetShardID calculates the deterministic shard ID for a given entity ID.
func GetShardID(entityID string) int {
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % ShardCount)
}

// EventSubject returns the NATS subject for a given entity type and ID.
// Format: app.event.{shard_id}.{entity_type}.{entity_id}
func EventSubject(entityType, entityID string) string {
	shardID := GetShardID(entityID)
	return fmt.Sprintf("app.event.%d.%s.%s", shardID, entityType, entityID)
}
