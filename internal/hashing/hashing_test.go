package hashing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBucket(t *testing.T) {
	t.Run("consistency", func(t *testing.T) {
		first := Bucket([]byte("test-key-123"), 16)
		for range 4 {
			require.Equal(t, first, Bucket([]byte("test-key-123"), 16))
		}
	})

	t.Run("bounds", func(t *testing.T) {
		keys := []string{"key1", "key2", "key3", "long-key-with-many-characters", ""}
		counts := []int{1, 2, 5, 16, 100}

		for _, key := range keys {
			for _, n := range counts {
				b := Bucket([]byte(key), n)
				require.True(t, b >= 0 && b < n, "out of bounds: key=%s, n=%d, bucket=%d", key, n, b)
			}
		}
	})

	t.Run("no buckets", func(t *testing.T) {
		require.Equal(t, 0, Bucket([]byte("k"), 0))
	})

	t.Run("distribution", func(t *testing.T) {
		n := 10
		distribution := make(map[int]int)
		for i := range 100 {
			distribution[Bucket(fmt.Appendf(nil, "key-%d", i), n)]++
		}

		require.True(t, len(distribution) >= 5, "poor distribution: only %d buckets used out of %d", len(distribution), n)
		for bucket, count := range distribution {
			require.True(t, count <= 30, "unbalanced distribution: bucket %d has %d%% of keys", bucket, count)
		}
	})
}

func BenchmarkBucket(b *testing.B) {
	key := []byte("benchmark-key-123")
	for b.Loop() {
		Bucket(key, 16)
	}
}
