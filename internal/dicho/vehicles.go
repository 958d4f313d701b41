package dicho

import (
	"sort"
	"strings"

	"vrpdicho/internal/model"
)

// SplitVehicles assigns each vehicle to one of two service clusters. A vehicle whose skills
// match services of only one cluster goes there unless that unbalances the vehicle/service
// ratios; other vehicles go to the cluster with the lower vehicles-per-service ratio. Neither
// side is left without vehicles when there are at least two.
func SplitVehicles(vehicles []*model.Vehicle, c0, c1 []*model.Service) [2][]*model.Vehicle {
	clusters := [2][]*model.Service{c0, c1}
	var skillSets [2][][]string
	for ci, services := range clusters {
		skillSets[ci] = distinctSkillSets(services)
	}
	size := [2]float64{float64(max(len(c0), 1)), float64(max(len(c1), 1))}

	var out [2][]*model.Vehicle
	for _, v := range vehicles {
		idx := -1
		if len(v.Skills) > 0 {
			pref := []int{}
			for ci := range skillSets {
				for _, sk := range skillSets[ci] {
					if v.Satisfies(sk) {
						pref = append(pref, ci)
						break
					}
				}
			}
			if len(pref) == 1 {
				idx = pref[0]
			}
		}
		n0, n1 := float64(len(out[0])), float64(len(out[1]))
		if idx >= 0 && ((n1-1)/size[1] > (n0+1)/size[0] || (n1+1)/size[1] < (n0-1)/size[0]) {
			idx = -1
		}
		if idx < 0 {
			idx = lowerRatio(n0, n1, size)
		}
		out[idx] = append(out[idx], v)
	}

	if len(vehicles) >= 2 && (len(out[0]) == 0 || len(out[1]) == 0) {
		empty, full := 0, 1
		if len(out[1]) == 0 {
			empty, full = 1, 0
		}
		moved := largestSkillGroupHead(out[full])
		out[empty] = append(out[empty], out[full][moved])
		out[full] = append(out[full][:moved:moved], out[full][moved+1:]...)
	}
	return out
}

func lowerRatio(n0, n1 float64, size [2]float64) int {
	if n0 == 0 || n1 == 0 {
		if n0 <= n1 {
			return 0
		}
		return 1
	}
	r0, r1 := n0/size[0], n1/size[1]
	switch {
	case r0 < r1:
		return 0
	case r1 < r0:
		return 1
	case size[0] <= size[1]:
		return 0
	default:
		return 1
	}
}

func distinctSkillSets(services []*model.Service) [][]string {
	seen := map[string]bool{}
	out := [][]string{}
	for _, s := range services {
		if len(s.Skills) == 0 {
			continue
		}
		set := sortedUnique(s.Skills)
		key := strings.Join(set, ",")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, set)
	}
	return out
}

// largestSkillGroupHead returns the index of the first vehicle of the most populated group of
// vehicles sharing the same skills.
func largestSkillGroupHead(vehicles []*model.Vehicle) int {
	count := map[string]int{}
	first := map[string]int{}
	order := []string{}
	for i, v := range vehicles {
		k := vehicleSkillKey(v)
		if _, ok := first[k]; !ok {
			first[k] = i
			order = append(order, k)
		}
		count[k]++
	}
	best := order[0]
	for _, k := range order[1:] {
		if count[k] > count[best] {
			best = k
		}
	}
	return first[best]
}

func vehicleSkillKey(v *model.Vehicle) string {
	groups := make([]string, 0, len(v.Skills))
	for _, g := range v.Skills {
		groups = append(groups, strings.Join(sortedUnique(g), ","))
	}
	sort.Strings(groups)
	return strings.Join(groups, "|")
}

func sortedUnique(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	n := 0
	for i, s := range out {
		if i == 0 || s != out[n-1] {
			out[n] = s
			n++
		}
	}
	return out[:n]
}
