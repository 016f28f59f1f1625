// Package api exposes the entity store over HTTP. One server fronts
// up to two stores, one per logical network; the X-Arke-Network
// header picks the namespace and every id in the request must belong
// to it.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	arke "github.com/Arke-Institute/arke-ipfs-api-sub001"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/arke_errors"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/utils"
)

const NetworkHeader = "X-Arke-Network"

type Server struct {
	stores map[aid.Network]*arke.Store
	log    utils.Logger
	mux    *http.ServeMux
}

// NewServer wires the handlers. test may be nil when the isolated
// namespace is not served.
func NewServer(main, test *arke.Store, log utils.Logger, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		stores: map[aid.Network]*arke.Store{},
		log:    log,
		mux:    http.NewServeMux(),
	}
	if main != nil {
		s.stores[aid.Main] = main
	}
	if test != nil {
		s.stores[aid.Test] = test
	}
	s.mux.HandleFunc("POST /entities", s.withStore(s.handleCreate))
	s.mux.HandleFunc("GET /entities/{id}", s.withStore(s.handleGet))
	s.mux.HandleFunc("GET /entities/{id}/versions/{n}", s.withStore(s.handleGetVersion))
	s.mux.HandleFunc("POST /entities/{id}/versions", s.withStore(s.handleCommit))
	s.mux.HandleFunc("POST /entities/{id}/merge", s.withStore(s.handleMerge))
	s.mux.HandleFunc("POST /entities/{id}/unmerge", s.withStore(s.handleUnmerge))
	if gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rid := uuid.NewString()
	w.Header().Set("X-Request-Id", rid)
	ctx := utils.WithDefaultArgs(r.Context(), "request_id", rid)
	s.log.DebugCtx(ctx, "request", "method", r.Method, "path", r.URL.Path)
	s.mux.ServeHTTP(w, r.WithContext(ctx))
}

type storeHandler func(store *arke.Store, w http.ResponseWriter, r *http.Request)

func (s *Server) withStore(h storeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		network, err := aid.ParseNetwork(r.Header.Get(NetworkHeader))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		store, ok := s.stores[network]
		if !ok {
			s.fail(w, r, arke_errors.ErrNetworkMismatch)
			return
		}
		h(store, w, r)
	}
}

type errorBody struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	LastSeen string `json:"last_seen,omitempty"`
}

func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, arke_errors.ErrCasMismatch):
		return http.StatusConflict, "cas_mismatch"
	case errors.Is(err, arke_errors.ErrTipWriteRace):
		return http.StatusConflict, "tip_write_race"
	case errors.Is(err, arke_errors.ErrMergeCycleRejected):
		return http.StatusConflict, "merge_cycle_rejected"
	case errors.Is(err, arke_errors.ErrAlreadyMerged):
		return http.StatusConflict, "already_merged"
	case errors.Is(err, arke_errors.ErrEntityExists):
		return http.StatusConflict, "entity_exists"
	case errors.Is(err, arke_errors.ErrNotMerged):
		return http.StatusBadRequest, "not_merged"
	case errors.Is(err, arke_errors.ErrEmptyMutation):
		return http.StatusBadRequest, "empty_mutation"
	case errors.Is(err, arke_errors.ErrNetworkMismatch):
		return http.StatusBadRequest, "network_mismatch"
	case errors.Is(err, aid.ErrBadID), errors.Is(err, aid.ErrBadNetwork),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, arke_errors.ErrUnknownVersion):
		return http.StatusNotFound, "unknown_version"
	case errors.Is(err, arke_errors.ErrEntityUnknown), errors.Is(err, arke_errors.ErrObjectUnknown):
		return http.StatusNotFound, "unknown_entity"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorCode(err)
	body := errorBody{Error: err.Error(), Code: code}
	var cas *arke_errors.CasError
	if errors.As(err, &cas) {
		body.Expected, body.Actual = cas.Expected, cas.Actual
	}
	var race *arke_errors.RaceError
	if errors.As(err, &race) {
		body.LastSeen = race.LastSeen
	}
	if status >= http.StatusInternalServerError {
		s.log.ErrorCtx(r.Context(), "request failed", "err", err)
	} else {
		s.log.DebugCtx(r.Context(), "request rejected", "err", err, "code", code)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var errBadRequest = errors.New("api: malformed request body")

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
