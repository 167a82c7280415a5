// Package serve exposes the pipeline over HTTP.
package serve

import (
	"encoding/json"
	"net/http"

	"backdrop/video"
)

// StatusSource is satisfied by *video.Pipeline.
type StatusSource interface {
	Status() video.Status
}

// StatsServer answers GET /stats with the current pipeline status.
type StatsServer struct {
	Source StatusSource
}

func (s *StatsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	js, err := json.Marshal(s.Source.Status())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}
