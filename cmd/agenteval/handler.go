package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/m-mizutani/agenteval/trace"
)

const defaultPageSize = 20

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type listTracesResponse struct {
	TraceIDs      []string `json:"trace_ids"`
	NextPageToken string   `json:"next_page_token,omitempty"`
}

func (s *server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	pageSize := defaultPageSize
	if v := r.URL.Query().Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid page_size parameter")
			return
		}
		pageSize = n
	}

	var after string
	if token := r.URL.Query().Get("page_token"); token != "" {
		b, err := base64.URLEncoding.DecodeString(token)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid page_token parameter")
			return
		}
		after = string(b)
	}

	ids, err := s.store.List(r.Context())
	if err != nil {
		slog.Error("failed to list traces", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list traces")
		return
	}

	writeJSON(w, http.StatusOK, paginate(ids, after, pageSize))
}

// paginate returns up to size IDs sorted after the given one.
func paginate(ids []string, after string, size int) listTracesResponse {
	sort.Strings(ids)
	start := sort.SearchStrings(ids, after)
	if start < len(ids) && ids[start] == after {
		start++
	}
	end := min(start+size, len(ids))

	resp := listTracesResponse{TraceIDs: append([]string{}, ids[start:end]...)}
	if end < len(ids) {
		resp.NextPageToken = base64.URLEncoding.EncodeToString([]byte(ids[end-1]))
	}
	return resp
}

func (s *server) loadTrace(w http.ResponseWriter, r *http.Request) (*trace.Trace, bool) {
	traceID := r.PathValue("id")
	if traceID == "" {
		writeError(w, http.StatusBadRequest, "trace ID is required")
		return nil, false
	}

	tr, err := s.store.Load(r.Context(), traceID)
	if err != nil {
		if errors.Is(err, trace.ErrTraceNotFound) {
			writeError(w, http.StatusNotFound, "trace not found")
		} else {
			slog.Error("failed to get trace", slog.Any("error", err), slog.String("trace_id", traceID))
			writeError(w, http.StatusInternalServerError, "failed to get trace")
		}
		return nil, false
	}
	return tr, true
}

func (s *server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	if tr, ok := s.loadTrace(w, r); ok {
		writeJSON(w, http.StatusOK, tr)
	}
}

func (s *server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	tr, ok := s.loadTrace(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	renderTree(&buf, tr)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
