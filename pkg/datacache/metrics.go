package datacache

import (
	"time"

	"github.com/vnykmshr/datacache-go/pkg/metrics"
)

// initializeMetrics sets up metrics collection if enabled
func (c *Cache) initializeMetrics() {
	m := c.config.Metrics
	if m == nil || !m.Enabled || m.Exporter == nil {
		c.metricsExporter = metrics.NewNoOpExporter()
		return
	}

	c.metricsExporter = m.Exporter

	c.metricsLabels = metrics.Labels{"cache_name": c.name}
	for k, v := range m.Labels {
		c.metricsLabels[k] = v
	}

	if m.ReportingInterval > 0 {
		c.metricsStop = make(chan struct{})
		c.metricsWg.Add(1)
		go c.metricsReporter(m.ReportingInterval)
	}
}

// metricsReporter periodically exports cache statistics
func (c *Cache) metricsReporter(interval time.Duration) {
	defer c.metricsWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.exportCurrentStats()
		case <-c.metricsStop:
			// Final stats export before shutting down
			c.exportCurrentStats()
			return
		}
	}
}

// ExportStats pushes the current statistics to the configured exporter
func (c *Cache) ExportStats() error {
	return c.metricsExporter.ExportStats(c.stats, c.metricsLabels)
}

func (c *Cache) exportCurrentStats() {
	if err := c.ExportStats(); err != nil {
		c.logger.Debug("Failed to export stats", F("error", err))
	}
}

func (c *Cache) recordOperation(op metrics.Operation, result metrics.Result, d time.Duration) {
	if err := c.metricsExporter.RecordOperation(op, result, d, c.metricsLabels); err != nil {
		c.logger.Debug("Failed to record operation", F("operation", string(op)), F("error", err))
	}
}

func (c *Cache) stopMetrics() {
	if c.metricsStop != nil {
		close(c.metricsStop)
		c.metricsWg.Wait()
		c.metricsStop = nil
	}
	if c.metricsExporter != nil {
		_ = c.metricsExporter.Close()
	}
}
