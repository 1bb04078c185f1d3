package providers

import "sync/atomic"

// Per-provider request counters, incremented once per network attempt.
var metrics struct {
	SupadataRequests     atomic.Int64
	TranscriptIORequests atomic.Int64
	SocialKitRequests    atomic.Int64
	InnertubeRequests    atomic.Int64
}

// GetMetrics returns a snapshot of the request counters.
func GetMetrics() map[string]int64 {
	return map[string]int64{
		"supadata_requests":  metrics.SupadataRequests.Load(),
		"ytio_requests":      metrics.TranscriptIORequests.Load(),
		"socialkit_requests": metrics.SocialKitRequests.Load(),
		"innertube_requests": metrics.InnertubeRequests.Load(),
	}
}

func incrSupadata()     { metrics.SupadataRequests.Add(1) }
func incrTranscriptIO() { metrics.TranscriptIORequests.Add(1) }
func incrSocialKit()    { metrics.SocialKitRequests.Add(1) }
func incrInnertube()    { metrics.InnertubeRequests.Add(1) }
