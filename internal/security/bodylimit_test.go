package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodyLimit(t *testing.T) {
	cases := []struct {
		name          string
		max           int64
		body          string
		contentLength int64
		wantStatus    int
		wantBody      string
	}{
		{name: "within limit", max: 32, body: `{"quantity":2}`, wantStatus: http.StatusOK, wantBody: `{"quantity":2}`},
		{name: "streamed body over limit", max: 5, body: `{"quantity":2}`, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "declared length over limit", max: 5, body: "{}", contentLength: 100, wantStatus: http.StatusRequestEntityTooLarge},
		{name: "disabled", max: 0, body: strings.Repeat("x", 64), wantStatus: http.StatusOK, wantBody: strings.Repeat("x", 64)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			handler := BodyLimit{Max: tc.max}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				data, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				got = string(data)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", strings.NewReader(tc.body))
			if tc.contentLength > 0 {
				req.ContentLength = tc.contentLength
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			require.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantStatus != http.StatusOK {
				var body struct {
					Error struct {
						Code    string           `json:"code"`
						Details map[string]int64 `json:"details"`
					} `json:"error"`
				}
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				require.Equal(t, "PAYLOAD_TOO_LARGE", body.Error.Code)
				require.Equal(t, tc.max, body.Error.Details["max_bytes"])
				return
			}
			require.Equal(t, tc.wantBody, got)
		})
	}
}
