package proxy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendForwardedFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		prior    string
		clientIP string
		want     string
	}{
		{"no prior header", "", "203.0.113.7", "203.0.113.7"},
		{"appended after prior hops", "10.0.0.1, 192.168.1.1", "203.0.113.7", "10.0.0.1, 192.168.1.1, 203.0.113.7"},
		{"exact entry not duplicated", "203.0.113.7, 10.0.0.1", "203.0.113.7", "203.0.113.7, 10.0.0.1"},
		{"suffix of a prior hop still appended", "10.0.0.1", "0.0.0.1", "10.0.0.1, 0.0.0.1"},
		{"empty client ip leaves header alone", "10.0.0.1", "", "10.0.0.1"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			header := http.Header{}
			if tc.prior != "" {
				header.Set("X-Forwarded-For", tc.prior)
			}
			appendForwardedFor(header, tc.clientIP)
			require.Equal(t, tc.want, header.Get("X-Forwarded-For"))
		})
	}
}
