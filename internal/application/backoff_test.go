package application

import (
	"testing"
	"time"
)

func TestRetryBackoff_Schedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 10 * time.Second},
		{11, 10 * time.Second},
		{12, 30 * time.Second},
		{23, 30 * time.Second},
		{24, 60 * time.Second},
		{99, 60 * time.Second},
	}
	for _, c := range cases {
		if got := RetryBackoff(c.attempt); got != c.want {
			t.Errorf("RetryBackoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
