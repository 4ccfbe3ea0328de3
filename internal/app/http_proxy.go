package app

import (
	"net/http"
	"strconv"
	"strings"

	"hydrowave/api/internal/logging"
)

func (s *HTTPServer) handleReverseGeocode(w http.ResponseWriter, r *http.Request) {
	rawLat := strings.TrimSpace(r.URL.Query().Get("lat"))
	rawLng := strings.TrimSpace(r.URL.Query().Get("lng"))
	if rawLat == "" || rawLng == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "lat and lng parameters are required", nil)
		return
	}
	lat, errLat := strconv.ParseFloat(rawLat, 64)
	lng, errLng := strconv.ParseFloat(rawLng, 64)
	if errLat != nil || errLng != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "lat and lng must be numbers", nil)
		return
	}

	body, err := s.service.ReverseGeocode(r.Context(), lat, lng)
	if err != nil {
		s.writeGeocodeError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) handleSearchPlaces(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "q (query) parameter is required", nil)
		return
	}
	body, err := s.service.SearchPlaces(r.Context(), q)
	if err != nil {
		s.writeGeocodeError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, body)
}

func (s *HTTPServer) writeGeocodeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapGeocodeError(err)
	if status >= 500 {
		logging.Ctx(r.Context()).Warn().Err(err).Int("status", status).Msg("geocoding failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) handleInsight(w http.ResponseWriter, r *http.Request) {
	reportID, err := pathID(r, "reportID", "report_id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	answer, err := s.service.Insight(r.Context(), principalFrom(r), reportID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insight": answer})
}
