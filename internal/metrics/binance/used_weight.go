package binancemetrics

import (
	"net/http"
	"strconv"

	"tradeflow/logger"
)

// ReportUsedWeight inspects Binance used-weight headers on a REST response and
// emits a gauge metric when a numeric value is found. The function returns the
// parsed weight and a boolean indicating whether a metric was recorded.
func ReportUsedWeight(log *logger.Log, resp *http.Response, component, endpoint string) (float64, bool) {
	if log == nil || resp == nil {
		return 0, false
	}

	headers := []struct {
		key    string
		window string
	}{
		{"X-MBX-USED-WEIGHT-1M", "1m"},
		{"X-MBX-USED-WEIGHT", "1m"},
		{"X-MBX-USED-WEIGHT-1S", "1s"},
	}

	for _, h := range headers {
		value := resp.Header.Get(h.key)
		if value == "" {
			continue
		}

		used, err := strconv.ParseFloat(value, 64)
		if err != nil {
			log.WithComponent(component).WithFields(logger.Fields{
				"endpoint": endpoint,
				"header":   h.key,
				"value":    value,
			}).WithError(err).Debug("failed to parse used weight header")
			continue
		}

		log.LogMetric(component, "used_weight", used, "gauge", logger.Fields{
			"exchange": "binance",
			"endpoint": endpoint,
			"window":   h.window,
		})

		return used, true
	}

	return 0, false
}
