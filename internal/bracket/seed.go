// Package bracket builds single-elimination brackets and moves winners through them.
//
// A bracket is a flat list of rounds, each an ordered list of matches. The parent
// of match k (1-based) in round r is match ceil(k/2) of round r+1; odd k feeds the
// parent's first slot and even k its second. Nothing in here touches storage.
package bracket

import (
	"math/rand"
	"sort"

	"github.com/tournament-engine/internal/domain"
)

// Seed orders players for round-one pairing and assigns 1-based seeds.
// The input is expected in registration order and is not modified.
func Seed(players []domain.Registration, method domain.SeedingMethod, rng *rand.Rand) []domain.Registration {
	seeded := make([]domain.Registration, len(players))
	copy(seeded, players)

	switch method {
	case domain.SeedingRating:
		sort.SliceStable(seeded, func(i, j int) bool {
			if seeded[i].Rating != seeded[j].Rating {
				return seeded[i].Rating > seeded[j].Rating
			}
			return seeded[i].RegisteredAt.Before(seeded[j].RegisteredAt)
		})
	default:
		// Fisher-Yates
		for i := len(seeded) - 1; i > 0; i-- {
			j := rng.Intn(i + 1)
			seeded[i], seeded[j] = seeded[j], seeded[i]
		}
	}

	for i := range seeded {
		seeded[i].Seed = i + 1
	}
	return seeded
}

// Size returns the smallest power of two that fits count players.
func Size(count int) int {
	if count <= 1 {
		return count
	}
	size := 1
	for size < count {
		size <<= 1
	}
	return size
}

// RoundCount returns log2 of the bracket size.
func RoundCount(size int) int {
	rounds := 0
	for size > 1 {
		size >>= 1
		rounds++
	}
	return rounds
}
