package fuzzer

import "testing"

func TestGetScoreRewardsRarity(t *testing.T) {
	rare := getScore(1)
	common := getScore(100)
	if rare <= common {
		t.Fatalf("a rarely-hit edge (count=1, score=%d) must outscore a common one (count=100, score=%d)", rare, common)
	}
}

func TestGetScoreMonotonicAcrossBucketBoundaries(t *testing.T) {
	boundaries := []uint8{0, 1, 2, 3, 4, 7, 8, 15, 16, 31, 32, 127, 128, 255}
	for i := 1; i < len(boundaries); i++ {
		prevScore := getScore(boundaries[i-1])
		curScore := getScore(boundaries[i])
		if curScore > prevScore {
			t.Fatalf("score must be non-increasing as hit count grows: getScore(%d)=%d < getScore(%d)=%d",
				boundaries[i-1], prevScore, boundaries[i], curScore)
		}
	}
}

func TestGetScoreNeverExceedsBucketMaxValue(t *testing.T) {
	for i := 0; i < 256; i++ {
		if s := getScore(uint8(i)); s > bucketMaxValue {
			t.Fatalf("getScore(%d) = %d exceeds bucketMaxValue %d", i, s, bucketMaxValue)
		}
	}
}
