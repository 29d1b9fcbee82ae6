package server

import (
	"encoding/json"
	"net/http"

	"tradezone/geo"
)

// Routes 注册 WebSocket 与运维接口
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/metrics", s.HandleMetrics)
	mux.HandleFunc("/admin/districts", s.HandleDistricts)
	mux.HandleFunc("/admin/config", s.HandleAdminConfig)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// HandleMetrics 输出运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload := map[string]any{
		"online":  s.hub.Count(),
		"metrics": s.metrics.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// HandleAdminConfig 行情参数的读取与热更新
// GET /admin/config  返回当前参数
// POST /admin/config 以 JSON 载荷更新部分字段
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		http.Error(w, "market simulator not configured", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.market.Tuning())
	case http.MethodPost:
		var body MarketTuning
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.market.Tune(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cur := s.market.Tuning()
		Log.Infof("market config updated: threshold=%.2f maxSwing=%.2f", *cur.SwingThresholdPct, *cur.MaxSwingPct)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleDistricts 各街区在线人数，未出现过成员的街区返回 0
// GET /admin/districts
func (s *Server) HandleDistricts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	counts := s.hub.DistrictCounts()
	type districtInfo struct {
		District geo.District `json:"district"`
		Online   int          `json:"online"`
	}
	out := make([]districtInfo, 0, len(geo.Districts()))
	for _, d := range geo.Districts() {
		out = append(out, districtInfo{District: d, Online: counts[d]})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"districts": out})
}
