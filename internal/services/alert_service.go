package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/containrrr/shoutrrr"

	"github.com/gatehouse-sh/gatehouse/backend/internal/logger"
)

// AlertService pushes security events to operator channels. Delivery is best
// effort and asynchronous; the governance path never waits on it.
type AlertService struct {
	urls []string
}

// NewAlertService returns an AlertService for the configured shoutrrr URLs.
// An empty list disables external alerting.
func NewAlertService(urls []string) *AlertService {
	return &AlertService{urls: urls}
}

// SecurityEvent reports a governance security event (blocked bootstrap,
// lockout refusal, denied recovery, audit write failure) to all channels.
func (s *AlertService) SecurityEvent(event string, fields map[string]interface{}) {
	logger.WithFields(map[string]interface{}{"event": event}).Warn("security event")

	if len(s.urls) == 0 {
		return
	}

	msg := formatEvent(event, fields)
	for _, url := range s.urls {
		go func(url string) {
			if err := shoutrrr.Send(url, msg); err != nil {
				logger.WithFields(map[string]interface{}{
					"event": event,
					"error": err.Error(),
				}).Error("failed to deliver security alert")
			}
		}(url)
	}
}

func formatEvent(event string, fields map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Gatehouse security event: %s", event)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, fields[k])
	}
	return b.String()
}
