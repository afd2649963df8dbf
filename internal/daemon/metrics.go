package daemon

import (
	"errors"
	"net/http"
	"time"

	"github.com/harun/freeagent/internal/observability"
)

func (d *Daemon) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	d.metricsServer = &http.Server{
		Addr:              d.config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Str("addr", d.config.Metrics.Addr).Msg("Metrics endpoint failed")
		}
	}()
}
