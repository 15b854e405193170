package dataset

import (
	"sort"

	"github.com/teracloudstack/failover-tester/internal/models"
)

// Compare reconciles the identifiers retrieved after failover against the
// identifiers injected before it. Any retrieved ID seen more than once is
// reported as a duplicate, whether or not it was injected.
func Compare(injected, retrieved []string) models.ComparisonResult {
	injectedSet := make(map[string]struct{}, len(injected))
	for _, id := range injected {
		injectedSet[id] = struct{}{}
	}

	seen := make(map[string]int, len(retrieved))
	for _, id := range retrieved {
		seen[id]++
	}

	var missing, duplicates []string
	for id := range injectedSet {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	for id, count := range seen {
		if count > 1 {
			duplicates = append(duplicates, id)
		}
	}
	sort.Strings(missing)
	sort.Strings(duplicates)

	var loss float64
	if len(injectedSet) > 0 {
		loss = float64(len(missing)) / float64(len(injectedSet)) * 100
	}
	return models.ComparisonResult{
		InjectedCount:  len(injected),
		RetrievedCount: len(retrieved),
		MissingIDs:     missing,
		DuplicateIDs:   duplicates,
		LossPercentage: loss,
	}
}
