package store

import (
	"sort"
	"strings"
)

// Project match levels used as the third ranking key.
const (
	ProjectMatchNone      = 0
	ProjectMatchSubstring = 1
	ProjectMatchExact     = 2
)

// MatchProject scores how well a project name matches the filter.
func MatchProject(name, filter string) int {
	if filter == "" {
		return ProjectMatchNone
	}
	n, f := strings.ToLower(name), strings.ToLower(filter)
	switch {
	case n == f:
		return ProjectMatchExact
	case strings.Contains(n, f):
		return ProjectMatchSubstring
	}
	return ProjectMatchNone
}

// CompareHits orders hits by distance ascending, then timestamp descending
// (missing timestamps last), then project match descending, then message id.
// It returns a negative number when a ranks before b.
func CompareHits(a, b *SearchHit, project string) int {
	if a.Distance != b.Distance {
		if a.Distance < b.Distance {
			return -1
		}
		return 1
	}
	switch {
	case a.Timestamp != nil && b.Timestamp == nil:
		return -1
	case a.Timestamp == nil && b.Timestamp != nil:
		return 1
	case a.Timestamp != nil && b.Timestamp != nil && !a.Timestamp.Equal(*b.Timestamp):
		if a.Timestamp.After(*b.Timestamp) {
			return -1
		}
		return 1
	}
	if ma, mb := MatchProject(a.ProjectName, project), MatchProject(b.ProjectName, project); ma != mb {
		if ma > mb {
			return -1
		}
		return 1
	}
	return strings.Compare(a.MessageID.String(), b.MessageID.String())
}

// SortHits sorts hits in place by CompareHits.
func SortHits(hits []SearchHit, project string) {
	sort.SliceStable(hits, func(i, j int) bool {
		return CompareHits(&hits[i], &hits[j], project) < 0
	})
}
