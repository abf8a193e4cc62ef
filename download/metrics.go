package download

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var downloadedBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "assetbridge_downloaded_bytes_total",
	Help: "Bytes streamed to disk across asset and thumbnail downloads.",
})
