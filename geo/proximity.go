package geo

import "sort"

const (
	// DiscoveryRadius 探索时推送附近商人的半径（米）
	DiscoveryRadius = 1000.0
	// TradeRadius 交易资格半径（米），与探索半径相互独立
	TradeRadius = 400.0
)

// Entity 可参与距离筛选的实体（玩家、商人）
type Entity struct {
	ID         string
	Name       string
	Coordinate Coordinate
}

// Nearby 距离筛选结果
type Nearby struct {
	EntityID       string     `json:"id"`
	Name           string     `json:"name"`
	Coordinate     Coordinate `json:"location"`
	DistanceMeters float64    `json:"distance"`
}

// Within 过滤 distance <= radius 的候选，并按距离升序返回（距离相同保持输入顺序）
func Within(origin Coordinate, candidates []Entity, radius float64) []Nearby {
	out := make([]Nearby, 0, len(candidates))
	for _, c := range candidates {
		d := Distance(origin, c.Coordinate)
		if d <= radius {
			out = append(out, Nearby{
				EntityID:       c.ID,
				Name:           c.Name,
				Coordinate:     c.Coordinate,
				DistanceMeters: d,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	return out
}

// TradeEligible 交易门槛：严格小于 400 米，恰好 400 米不可交易
func TradeEligible(distance float64) bool {
	return distance < TradeRadius
}
