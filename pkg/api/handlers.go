// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tundzai001/land-slide-web/pkg/analyzer"
	"github.com/tundzai001/land-slide-web/pkg/broker"
	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/processors"
	"github.com/tundzai001/land-slide-web/pkg/registry"
	"github.com/tundzai001/land-slide-web/pkg/stationcfg"
	"github.com/tundzai001/land-slide-web/pkg/store"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
)

type healthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Broker        string            `json:"broker"`
	Stores        map[string]string `json:"stores"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: s.deps.Clock.Now().Sub(s.started).Seconds(),
		Broker:        "unconfigured",
		Stores:        make(map[string]string, len(s.deps.Stores)),
	}
	if s.deps.Broker != nil {
		resp.Broker = string(s.deps.Broker.State())
		if resp.Broker != string(broker.StateConnected) {
			resp.Status = "degraded"
		}
	}
	for name, p := range s.deps.Stores {
		if err := p.Ping(r.Context()); err != nil {
			resp.Stores[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Stores[name] = "ok"
	}
	respondJSON(w, http.StatusOK, resp)
}

// stationView is a station row with its liveness and risk computed at
// read time.
type stationView struct {
	ID          int64      `json:"id"`
	StationCode string     `json:"station_code"`
	Name        string     `json:"name"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Status      string     `json:"status"`
	RiskLevel   string     `json:"risk_level"`
	LastUpdate  *time.Time `json:"last_update"`
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stations, err := s.deps.Stations.ListStations(ctx)
	if err != nil {
		log.Errorf("api: listing stations: %v", err)
		respondError(w, http.StatusInternalServerError, "listing stations failed")
		return
	}

	now := s.deps.Clock.Now()
	out := make([]stationView, 0, len(stations))
	for _, st := range stations {
		view := stationView{
			ID:          st.ID,
			StationCode: st.StationCode,
			Name:        st.Name,
			Latitude:    st.Latitude,
			Longitude:   st.Longitude,
			Status:      model.StationOffline,
			RiskLevel:   st.RiskLevel,
		}
		if st.LastUpdate.Valid {
			t := st.LastUpdate.Time
			view.LastUpdate = &t
			if now.Sub(t) < offlineAfter {
				view.Status = model.StationOnline
			}
		}
		if risk, ok := s.liveRisk(ctx, st.ID); ok {
			view.RiskLevel = string(risk)
		}
		out = append(out, view)
	}
	respondJSON(w, http.StatusOK, out)
}

// liveRisk rolls the station's open alerts up to a risk level. A failed
// count falls back to the cached column.
func (s *Server) liveRisk(ctx context.Context, stationID int64) (model.RiskLevel, bool) {
	counts, err := s.deps.Data.CountOpenAlerts(ctx, stationID)
	if err != nil {
		log.Warnf("api: station %d risk rollup: %v", stationID, err)
		return "", false
	}
	return model.RollupRisk(counts), true
}

type analysisResponse struct {
	StationID  int64 `json:"station_id"`
	WindowDays int   `json:"window_days"`
	*analyzer.LongTermResult
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stationID := pathID(r)

	station, err := s.deps.Stations.GetStation(ctx, stationID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "station not found")
		return
	}
	if err != nil {
		log.Errorf("api: loading station %d: %v", stationID, err)
		respondError(w, http.StatusInternalServerError, "loading station failed")
		return
	}

	days := queryInt(r, "days", defaultAnalysisDays, 1, maxAnalysisDays)
	since := s.deps.Clock.Now().AddDate(0, 0, -days)
	rows, err := s.deps.Data.ListGNSSPoints(ctx, stationID, since)
	if err != nil {
		log.Errorf("api: loading gnss points for station %d: %v", stationID, err)
		respondError(w, http.StatusInternalServerError, "loading gnss points failed")
		return
	}

	points := make([]analyzer.LongTermPoint, 0, len(rows))
	for _, row := range rows {
		var rec processors.GNSSRecord
		if err := json.Unmarshal(row.Payload, &rec); err != nil {
			log.Debugf("api: station %d: skipping unreadable gnss row %d", stationID, row.ID)
			continue
		}
		points = append(points, analyzer.LongTermPoint{
			Timestamp: row.Timestamp,
			PosE:      rec.PosE,
			PosN:      rec.PosN,
			PosU:      rec.PosU,
			Speed2D:   rec.Speed2D,
		})
	}

	cfg, err := stationcfg.Parse(station.Configuration)
	if err != nil {
		log.Warnf("api: station %d configuration unreadable, using defaults: %v", stationID, err)
		cfg = stationcfg.Default()
	}

	respondJSON(w, http.StatusOK, analysisResponse{
		StationID:      stationID,
		WindowDays:     days,
		LongTermResult: analyzer.AnalyzeLongTerm(points, cfg),
	})
}

type riskResponse struct {
	StationID  int64                    `json:"station_id"`
	RiskLevel  model.RiskLevel          `json:"risk_level"`
	OpenAlerts map[model.AlertLevel]int `json:"open_alerts"`
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stationID := pathID(r)

	if _, err := s.deps.Stations.GetStation(ctx, stationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "station not found")
			return
		}
		log.Errorf("api: loading station %d: %v", stationID, err)
		respondError(w, http.StatusInternalServerError, "loading station failed")
		return
	}

	counts, err := s.deps.Data.CountOpenAlerts(ctx, stationID)
	if err != nil {
		log.Errorf("api: station %d risk rollup: %v", stationID, err)
		respondError(w, http.StatusInternalServerError, "risk rollup failed")
		return
	}
	respondJSON(w, http.StatusOK, riskResponse{
		StationID:  stationID,
		RiskLevel:  model.RollupRisk(counts),
		OpenAlerts: counts,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	stationID, _ := strconv.ParseInt(r.URL.Query().Get("station_id"), 10, 64)
	unresolved, _ := strconv.ParseBool(r.URL.Query().Get("unresolved"))
	limit := queryInt(r, "limit", defaultAlertLimit, 1, maxAlertLimit)

	alerts, err := s.deps.Data.ListAlerts(r.Context(), stationID, unresolved, limit)
	if err != nil {
		log.Errorf("api: listing alerts: %v", err)
		respondError(w, http.StatusInternalServerError, "listing alerts failed")
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	respondJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := pathID(r)
	err := s.deps.Data.ResolveAlert(r.Context(), id, s.deps.Clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "alert not found or already resolved")
		return
	}
	if err != nil {
		log.Errorf("api: resolving alert %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "resolving alert failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "resolved", "id": id})
}

func (s *Server) handleResetOrigin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		respondError(w, http.StatusServiceUnavailable, "registry not running")
		return
	}
	id := pathID(r)
	err := s.deps.Registry.ResetOrigin(r.Context(), id)
	if errors.Is(err, registry.ErrNotGNSS) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Errorf("api: resetting origin for device %d: %v", id, err)
		respondError(w, http.StatusInternalServerError, "origin reset failed")
		return
	}
	log.Infof("api: origin reset requested for device %d", id)
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "origin_reset", "device_id": id})
}

// pathID pulls the numeric id path variable. The route pattern already
// constrains it to digits.
func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
