// Package cache stores memoized function results.
//
// Keys come from a Keyer, which hashes a function name together with the
// canonical JSON of its arguments. MemoryCache keeps entries in process;
// RedisCache shares them between replicas. Both clamp TTLs through a Policy.
package cache
