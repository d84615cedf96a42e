package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const pageSize = 50

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// pageParams reads ?page= (1-based) and returns the page, limit and offset.
func pageParams(r *http.Request) (page, limit, offset int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	return page, pageSize, (page - 1) * pageSize
}

func totalPages(total, limit int) int {
	return (total + limit - 1) / limit
}
