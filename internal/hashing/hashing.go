// Package hashing maps keys onto a fixed number of buckets.
package hashing

import "github.com/zeebo/xxh3"

// Bucket returns the bucket of key among n buckets, in [0, n).
// The assignment is stable for a given n and moves few keys when n grows.
func Bucket(key []byte, n int) int {
	return JumpHash(xxh3.Hash(key), n)
}

// JumpHash implements the Jump consistent hashing algorithm.
// Google's "Jump" Consistent Hash function: https://arxiv.org/abs/1406.2294
func JumpHash(key uint64, numBuckets int) int {
	if numBuckets <= 0 {
		return 0
	}

	var b int64 = -1
	var j int64

	for j < int64(numBuckets) {
		b = j
		key = key*2862933555777941757 + 1
		j = int64(float64(b+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}

	return int(b)
}
