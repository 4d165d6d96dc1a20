package dispatch

import (
	"sort"

	"github.com/dennisdiepolder/dispatchdesk/internal/geo"
	"github.com/dennisdiepolder/dispatchdesk/internal/types"
)

// RankCandidates annotates servicemen with their distance from origin and sorts
// them nearest first. Servicemen without coordinates, or every serviceman when
// origin is unknown, sort last in their original order.
func RankCandidates(origin *geo.Point, servicemen []types.Serviceman) []types.ServicemanCandidate {
	out := make([]types.ServicemanCandidate, 0, len(servicemen))
	for _, sm := range servicemen {
		c := types.ServicemanCandidate{Serviceman: sm}
		if origin != nil && sm.CurrentLat != nil && sm.CurrentLng != nil {
			d := geo.Round2(geo.Haversine(*origin, geo.Point{Lat: *sm.CurrentLat, Lng: *sm.CurrentLng}))
			c.DistanceKm = &d
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].DistanceKm, out[j].DistanceKm
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return out
}
