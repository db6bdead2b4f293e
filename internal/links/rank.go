package links

import "sort"

// RankInput carries the figures the leaderboard is computed from.
type RankInput struct {
	PageID  uint
	Length  int
	Forward int
	Back    int
}

// RankEntry is a scored leaderboard row.
type RankEntry struct {
	RankInput
	Score int
}

// Rank scores pages by size and connectivity. Entries are ordered by score,
// then back links, then length, then forward links, all descending; page id
// ascending settles whatever is left.
func Rank(inputs []RankInput) []RankEntry {
	entries := make([]RankEntry, 0, len(inputs))
	for _, in := range inputs {
		entries = append(entries, RankEntry{
			RankInput: in,
			Score:     in.Length/1024 + in.Forward + in.Back,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.Score != b.Score:
			return a.Score > b.Score
		case a.Back != b.Back:
			return a.Back > b.Back
		case a.Length != b.Length:
			return a.Length > b.Length
		case a.Forward != b.Forward:
			return a.Forward > b.Forward
		default:
			return a.PageID < b.PageID
		}
	})

	return entries
}
