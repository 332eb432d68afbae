package connectors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuthExpired},
		{http.StatusForbidden, KindAuthExpired},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusInternalServerError, KindTransientUpstream},
		{http.StatusBadGateway, KindTransientUpstream},
		{http.StatusNotFound, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d", tt.status), func(t *testing.T) {
			err := classifyStatus("TEST_CONNECTOR", tt.status, "page fetch")
			if got := KindOf(err); got != tt.want {
				t.Errorf("KindOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKindOfWrappedError(t *testing.T) {
	inner := newError(KindRateLimited, "TEST_CONNECTOR", nil, "slow down")
	wrapped := fmt.Errorf("run failed: %w", inner)
	if got := KindOf(wrapped); got != KindRateLimited {
		t.Errorf("KindOf(wrapped) = %v, want %v", got, KindRateLimited)
	}
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf(plain) = %v, want %v", got, KindUnknown)
	}
}
