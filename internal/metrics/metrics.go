package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FilesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videovault_files_ingested_total",
			Help: "Total number of files picked up from watched paths",
		},
		[]string{"path"},
	)
	FilesIngestedErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videovault_files_ingested_errors_total",
			Help: "Total number of files from watched paths that could not be queued",
		},
		[]string{"path"},
	)
	UploadsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videovault_uploads_completed_total",
			Help: "Total number of uploads that produced a manifest",
		},
		[]string{"backend"},
	)
	UploadsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videovault_uploads_failed_total",
			Help: "Total number of uploads aborted before a manifest was created",
		},
		[]string{"backend"},
	)
	ChunksUploaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videovault_chunks_uploaded_total",
			Help: "Total number of chunks stored in the blob store",
		},
		[]string{"backend"},
	)
	ChunksUploadedErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videovault_chunks_uploaded_errors_total",
			Help: "Total number of chunk store calls that failed",
		},
		[]string{"backend"},
	)
	ChunkCleanupErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videovault_chunk_cleanup_errors_total",
			Help: "Total number of orphaned chunks that could not be deleted after a failed upload",
		},
		[]string{"backend"},
	)
	ChunksDownloaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videovault_chunks_downloaded_total",
			Help: "Total number of chunks fetched for downloads",
		},
		[]string{"backend"},
	)
	ChunksUnavailable = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videovault_chunks_unavailable_total",
			Help: "Total number of chunks that could not be fetched or failed verification",
		},
		[]string{"backend"},
	)
	BytesUploaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videovault_bytes_uploaded_total",
			Help: "Total number of source bytes stored",
		},
		[]string{"backend"},
	)
	BytesDownloaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videovault_bytes_downloaded_total",
			Help: "Total number of bytes reassembled for downloads",
		},
		[]string{"backend"},
	)
	UploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "videovault_upload_duration_seconds",
			Help:    "Duration of successful uploads",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(FilesIngested)
	prometheus.MustRegister(FilesIngestedErrors)
	prometheus.MustRegister(UploadsCompleted)
	prometheus.MustRegister(UploadsFailed)
	prometheus.MustRegister(ChunksUploaded)
	prometheus.MustRegister(ChunksUploadedErrors)
	prometheus.MustRegister(ChunkCleanupErrors)
	prometheus.MustRegister(ChunksDownloaded)
	prometheus.MustRegister(ChunksUnavailable)
	prometheus.MustRegister(BytesUploaded)
	prometheus.MustRegister(BytesDownloaded)
	prometheus.MustRegister(UploadDuration)
}
