package geo

// District 街区标识（聊天与通知的作用域单位）
type District string

const (
	DistrictNone    District = ""
	DistrictJongno  District = "jongno"
	DistrictJung    District = "jung"
	DistrictYongsan District = "yongsan"
	DistrictMapo    District = "mapo"
	DistrictSeocho  District = "seocho"
	DistrictGangnam District = "gangnam"
	DistrictSongpa  District = "songpa"
	DistrictOther   District = "other"
)

// Bounds 矩形范围：Min 边包含，Max 边不包含（半开区间）
type Bounds struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Contains 半开区间判断，保证相邻街区共享边上的点只属于一个街区
func (b Bounds) Contains(c Coordinate) bool {
	return c.Lat >= b.MinLat && c.Lat < b.MaxLat &&
		c.Lng >= b.MinLng && c.Lng < b.MaxLng
}

// Overlaps 两个半开矩形是否有公共面积
func (b Bounds) Overlaps(o Bounds) bool {
	return b.MinLat < o.MaxLat && o.MinLat < b.MaxLat &&
		b.MinLng < o.MaxLng && o.MinLng < b.MaxLng
}

type districtBox struct {
	id     District
	bounds Bounds
}

// 固定顺序匹配；各矩形互不重叠（见 district_test.go）
var districtBoxes = []districtBox{
	{DistrictJongno, Bounds{MinLat: 37.570, MaxLat: 37.600, MinLng: 126.960, MaxLng: 127.010}},
	{DistrictJung, Bounds{MinLat: 37.550, MaxLat: 37.570, MinLng: 126.960, MaxLng: 127.020}},
	{DistrictYongsan, Bounds{MinLat: 37.520, MaxLat: 37.550, MinLng: 126.960, MaxLng: 127.010}},
	{DistrictMapo, Bounds{MinLat: 37.540, MaxLat: 37.570, MinLng: 126.900, MaxLng: 126.960}},
	{DistrictSeocho, Bounds{MinLat: 37.460, MaxLat: 37.520, MinLng: 126.980, MaxLng: 127.020}},
	{DistrictGangnam, Bounds{MinLat: 37.480, MaxLat: 37.520, MinLng: 127.020, MaxLng: 127.080}},
	{DistrictSongpa, Bounds{MinLat: 37.480, MaxLat: 37.520, MinLng: 127.080, MaxLng: 127.140}},
}

// ComputeDistrict 坐标 → 街区，纯函数且全域有定义；不在任何矩形内时返回 other
func ComputeDistrict(c Coordinate) District {
	for _, box := range districtBoxes {
		if box.bounds.Contains(c) {
			return box.id
		}
	}
	return DistrictOther
}

// Districts 返回所有街区（含 other），顺序固定
func Districts() []District {
	out := make([]District, 0, len(districtBoxes)+1)
	for _, box := range districtBoxes {
		out = append(out, box.id)
	}
	return append(out, DistrictOther)
}

// BoundsOf 返回街区范围；other 没有范围
func BoundsOf(d District) (Bounds, bool) {
	for _, box := range districtBoxes {
		if box.id == d {
			return box.bounds, true
		}
	}
	return Bounds{}, false
}
