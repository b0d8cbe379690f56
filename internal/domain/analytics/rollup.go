package analytics

import (
	"sort"

	"github.com/google/uuid"

	"github.com/casewatch/casewatch/internal/domain/jurisdiction"
)

// rollUp adds every jurisdiction's own totals to all of its ancestors.
// Children are visited before parents so each node sums finished subtrees.
func rollUp[K comparable](tree *jurisdiction.Tree, own map[uuid.UUID]map[K]int) map[uuid.UUID]map[K]int {
	out := make(map[uuid.UUID]map[K]int, tree.Len())
	for _, id := range tree.PostOrder() {
		acc := make(map[K]int, len(own[id]))
		for k, v := range own[id] {
			acc[k] += v
		}
		for _, child := range tree.Children(id) {
			for k, v := range out[child] {
				acc[k] += v
			}
		}
		out[id] = acc
	}
	return out
}

func groupCounts(rows []CountRow) map[uuid.UUID]map[CountKey]int {
	out := make(map[uuid.UUID]map[CountKey]int)
	for _, r := range rows {
		m, ok := out[r.JurisdictionID]
		if !ok {
			m = make(map[CountKey]int)
			out[r.JurisdictionID] = m
		}
		m[r.Key] += r.Total
	}
	return out
}

// groupLocations derives both map levels from address rows: a state
// total and a county total within each state.
func groupLocations(rows []LocationRow) map[uuid.UUID]map[MapKey]int {
	out := make(map[uuid.UUID]map[MapKey]int)
	for _, r := range rows {
		m, ok := out[r.JurisdictionID]
		if !ok {
			m = make(map[MapKey]int)
			out[r.JurisdictionID] = m
		}
		m[MapKey{Level: LevelState, Workflow: r.Workflow, State: r.State}] += r.Total
		m[MapKey{Level: LevelCounty, Workflow: r.Workflow, State: r.State, County: r.County}] += r.Total
	}
	return out
}

func countsFrom(m map[CountKey]int) []MonitoreeCount {
	out := make([]MonitoreeCount, 0, len(m))
	for k, v := range m {
		out = append(out, MonitoreeCount{CountKey: k, Total: v})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].CountKey, out[j].CountKey
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		if a.ActiveMonitoring != b.ActiveMonitoring {
			return a.ActiveMonitoring
		}
		if a.CategoryType != b.CategoryType {
			return a.CategoryType < b.CategoryType
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.RiskLevel < b.RiskLevel
	})
	return out
}

func mapsFrom(m map[MapKey]int) []MonitoreeMap {
	out := make([]MonitoreeMap, 0, len(m))
	for k, v := range m {
		out = append(out, MonitoreeMap{MapKey: k, Total: v})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].MapKey, out[j].MapKey
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.Workflow != b.Workflow {
			return a.Workflow < b.Workflow
		}
		if a.State != b.State {
			return a.State < b.State
		}
		return a.County < b.County
	})
	return out
}
