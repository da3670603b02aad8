package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/wayfinder/nav"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(a *App) http.Handler {
	mux := http.NewServeMux()
	ingestor := nav.NewIngestor(a.Sessions, nil)
	if a.Publisher != nil {
		ingestor.SetPublisher(a.Publisher)
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status        string    `json:"status"`
			Timestamp     time.Time `json:"timestamp"`
			Nodes         int       `json:"nodes"`
			Buildings     int       `json:"buildings"`
			Sessions      int       `json:"sessions"`
			Calibrated    bool      `json:"calibrated"`
			MQTTConnected bool      `json:"mqttConnected"`
		}{
			Status:        "ok",
			Timestamp:     time.Now(),
			Buildings:     len(a.Buildings),
			Calibrated:    a.Calibration != nil,
			MQTTConnected: a.MQTTClient != nil && a.MQTTClient.IsConnected(),
		}
		if a.Graph != nil {
			status.Nodes = a.Graph.NodeCount()
		}
		if a.Sessions != nil {
			status.Sessions = len(a.Sessions.IDs())
		}
		writeJSON(w, http.StatusOK, status)
	})

	// Outdoor route: ?from=&to= node ids, or ?fromLat=&fromLng=&toLat=&toLng=
	mux.HandleFunc("GET /route", func(w http.ResponseWriter, r *http.Request) {
		res, err := a.outdoorRoute(r)
		writeRoute(w, res, err)
	})

	// Indoor route: ?building=&fromFloor=&from=&toFloor=&to=[&accessible=true]
	mux.HandleFunc("GET /route/indoor", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		b, ok := a.Buildings[q.Get("building")]
		if !ok {
			http.Error(w, "unknown building", http.StatusNotFound)
			return
		}
		res, err := b.FindPath(q.Get("fromFloor"), q.Get("from"), q.Get("toFloor"), q.Get("to"), a.routeOptions(r))
		writeRoute(w, res, err)
	})

	// Hybrid route between hybrid node ids: ?from=&to=[&accessible=true]
	mux.HandleFunc("GET /route/hybrid", func(w http.ResponseWriter, r *http.Request) {
		if a.Hybrid == nil {
			http.Error(w, "No hybrid graph available", http.StatusServiceUnavailable)
			return
		}
		q := r.URL.Query()
		res, err := a.Hybrid.FindPath(q.Get("from"), q.Get("to"), a.routeOptions(r))
		writeRoute(w, res, err)
	})

	mux.HandleFunc("GET /graph/report", func(w http.ResponseWriter, r *http.Request) {
		if a.Graph == nil {
			http.Error(w, "No graph available", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, nav.ValidateGraph(a.Graph, a.Config.Validator))
	})

	mux.HandleFunc("GET /graph.svg", func(w http.ResponseWriter, r *http.Request) {
		if a.Graph == nil || a.Graph.NodeCount() == 0 {
			http.Error(w, "No graph available", http.StatusServiceUnavailable)
			return
		}
		renderer := nav.NewGraphRenderer(a.Graph)
		if r.URL.Query().Get("from") != "" {
			if res, err := a.outdoorRoute(r); err == nil {
				renderer.Route = res.Geometry
			}
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error rendering graph SVG: %v", err)
		}
	})

	mux.HandleFunc("POST /sessions", func(w http.ResponseWriter, r *http.Request) {
		s := a.Sessions.Create()
		log.Printf("[HTTP] created session %s", s.ID)
		writeJSON(w, http.StatusCreated, map[string]string{"id": s.ID})
	})

	mux.HandleFunc("POST /sessions/{id}/fix", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil {
			http.Error(w, "reading body", http.StatusBadRequest)
			return
		}
		update, err := ingestor.IngestExisting(r.PathValue("id"), body)
		if err != nil {
			if errors.Is(err, nav.ErrSessionNotFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			if rej, ok := nav.IsRejected(err); ok {
				writeJSON(w, http.StatusAccepted, map[string]interface{}{"rejected": rej.Reason, "value": rej.Value, "limit": rej.Limit})
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, update)
	})

	mux.HandleFunc("POST /sessions/{id}/route", func(w http.ResponseWriter, r *http.Request) {
		s, err := a.Sessions.Get(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		var req routeRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
			return
		}

		var res nav.PathResult
		switch req.Graph {
		case "", "outdoor":
			res, err = a.findOutdoor(req.From, req.To)
		case "hybrid":
			if a.Hybrid == nil {
				http.Error(w, "No hybrid graph available", http.StatusServiceUnavailable)
				return
			}
			res, err = a.Hybrid.FindPath(req.From, req.To, nav.RouteOptions{AccessibleOnly: req.AccessibleOnly || a.Config.Indoor.AccessibleOnly})
		default:
			http.Error(w, "graph must be outdoor or hybrid", http.StatusBadRequest)
			return
		}
		if err != nil {
			writeRoute(w, res, err)
			return
		}

		s.SetRoute(res.Route(), req.FixedStart, req.Destination)
		s.SetTurnByTurn(req.TurnByTurn)
		steps, err := s.Directions()
		if err != nil {
			log.Printf("[HTTP] session %s: directions unavailable: %v", s.ID, err)
		}
		writeJSON(w, http.StatusOK, struct {
			Route      nav.PathResult      `json:"route"`
			Directions []nav.DirectionStep `json:"directions,omitempty"`
		}{res, steps})
	})

	mux.HandleFunc("DELETE /sessions/{id}/route", func(w http.ResponseWriter, r *http.Request) {
		s, err := a.Sessions.Get(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.ClearRoute()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("DELETE /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, err := a.Sessions.Get(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		a.Sessions.Remove(id)
		if a.Publisher != nil {
			a.Publisher.ClearSession(id)
		}
		log.Printf("[HTTP] ended session %s", id)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /sessions/{id}/position", func(w http.ResponseWriter, r *http.Request) {
		s, err := a.Sessions.Get(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		pos, ok := s.Position()
		if !ok {
			http.Error(w, "No position yet", http.StatusServiceUnavailable)
			return
		}
		resp := struct {
			Position nav.SmoothedPosition `json:"position"`
			Progress *nav.RouteProgress   `json:"progress,omitempty"`
		}{Position: pos}
		if progress, ok := s.Progress(); ok {
			resp.Progress = &progress
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return mux
}

// routeRequest is the body of POST /sessions/{id}/route
type routeRequest struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Graph          string `json:"graph,omitempty"` // outdoor (default) or hybrid
	AccessibleOnly bool   `json:"accessibleOnly,omitempty"`
	FixedStart     bool   `json:"fixedStart,omitempty"`
	TurnByTurn     bool   `json:"turnByTurn,omitempty"`
	Destination    string `json:"destination,omitempty"`
}

// outdoorRoute answers an outdoor query by node ids or by coordinates
func (a *App) outdoorRoute(r *http.Request) (nav.PathResult, error) {
	q := r.URL.Query()
	if q.Get("from") != "" || q.Get("to") != "" {
		return a.findOutdoor(q.Get("from"), q.Get("to"))
	}

	from, err := geoParam(q.Get("fromLat"), q.Get("fromLng"))
	if err != nil {
		return nav.PathResult{}, err
	}
	to, err := geoParam(q.Get("toLat"), q.Get("toLng"))
	if err != nil {
		return nav.PathResult{}, err
	}
	if a.Calibration == nil {
		return nav.PathResult{}, fmt.Errorf("geographic routing needs a calibration")
	}
	start, ok := a.Pathfinder.NearestNode(a.Calibration.GeoToPlane(from.Lat, from.Lng))
	if !ok {
		return nav.PathResult{}, fmt.Errorf("no node near start: %w", nav.ErrNodeNotFound)
	}
	goal, ok := a.Pathfinder.NearestNode(a.Calibration.GeoToPlane(to.Lat, to.Lng))
	if !ok {
		return nav.PathResult{}, fmt.Errorf("no node near goal: %w", nav.ErrNodeNotFound)
	}
	return a.findOutdoor(start.ID, goal.ID)
}

func (a *App) routeOptions(r *http.Request) nav.RouteOptions {
	accessible := a.Config.Indoor.AccessibleOnly
	if v := r.URL.Query().Get("accessible"); v != "" {
		accessible, _ = strconv.ParseBool(v)
	}
	return nav.RouteOptions{AccessibleOnly: accessible}
}

func geoParam(lat, lng string) (nav.GeoPoint, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nav.GeoPoint{}, fmt.Errorf("invalid latitude %q", lat)
	}
	ln, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return nav.GeoPoint{}, fmt.Errorf("invalid longitude %q", lng)
	}
	return nav.GeoPoint{Lat: la, Lng: ln}, nil
}

// writeRoute maps route outcomes to status codes. No path is a normal
// answer carried in the body with found=false.
func writeRoute(w http.ResponseWriter, res nav.PathResult, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, nav.ErrPathNotFound):
		writeJSON(w, http.StatusNotFound, res)
	case errors.Is(err, nav.ErrNodeNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
