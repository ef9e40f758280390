package handlers

import "net/http"

func NewRouter(v1Handler *V1Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthCheck)

	mux.HandleFunc("POST /v1/files", v1Handler.UploadFile)
	mux.HandleFunc("POST /v1/files/url", v1Handler.UploadFromURL)
	mux.HandleFunc("GET /v1/files/{id}", v1Handler.DownloadFile)
	mux.HandleFunc("GET /v1/files/{id}/manifest", v1Handler.GetManifest)
	mux.HandleFunc("GET /v1/owners/{owner}/files", v1Handler.ListFiles)
	mux.HandleFunc("GET /v1/owners/{owner}/export", v1Handler.ExportHistory)

	mux.HandleFunc("GET /v1/path", v1Handler.ListWatchedPaths)
	mux.HandleFunc("POST /v1/path/add", v1Handler.AddPathToWatch)
	mux.HandleFunc("DELETE /v1/path/remove", v1Handler.RemovePathFromWatch)
	return mux
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
