package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		cfg        CORSConfig
		method     string
		headers    map[string]string
		wantStatus int
		wantNext   bool
		want       map[string]string
		wantVary   []string
	}{
		{
			name:       "no origin passes through",
			cfg:        CORSConfig{Origins: []string{"*"}},
			method:     http.MethodPost,
			wantStatus: http.StatusOK,
			wantNext:   true,
			want:       map[string]string{"Access-Control-Allow-Origin": ""},
		},
		{
			name:       "wildcard actual request",
			cfg:        CORSConfig{Origins: []string{"*"}, ExposeHeaders: []string{RequestIDHeader}},
			method:     http.MethodPost,
			headers:    map[string]string{"Origin": "https://shop.example"},
			wantStatus: http.StatusOK,
			wantNext:   true,
			want: map[string]string{
				"Access-Control-Allow-Origin":   "*",
				"Access-Control-Expose-Headers": RequestIDHeader,
			},
		},
		{
			name:       "listed origin echoes configured spelling",
			cfg:        CORSConfig{Origins: []string{"https://Shop.example"}},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://shop.example"},
			wantStatus: http.StatusOK,
			wantNext:   true,
			want:       map[string]string{"Access-Control-Allow-Origin": "https://Shop.example"},
			wantVary:   []string{"Origin"},
		},
		{
			name:       "unlisted origin gets no headers",
			cfg:        CORSConfig{Origins: []string{"https://shop.example"}},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://evil.example"},
			wantStatus: http.StatusOK,
			wantNext:   true,
			want:       map[string]string{"Access-Control-Allow-Origin": ""},
			wantVary:   []string{"Origin"},
		},
		{
			name:   "credentials echo origin instead of wildcard",
			cfg:    CORSConfig{Origins: []string{"*"}, AllowCredentials: true},
			method: http.MethodPost,
			headers: map[string]string{
				"Origin": "https://shop.example",
			},
			wantStatus: http.StatusOK,
			wantNext:   true,
			want: map[string]string{
				"Access-Control-Allow-Origin":      "https://shop.example",
				"Access-Control-Allow-Credentials": "true",
			},
			wantVary: []string{"Origin"},
		},
		{
			name:   "preflight",
			cfg:    CORSConfig{Headers: []string{"Content-Type"}, MaxAge: 24 * time.Hour},
			method: http.MethodOptions,
			headers: map[string]string{
				"Origin":                        "https://shop.example",
				"Access-Control-Request-Method": http.MethodPost,
			},
			wantStatus: http.StatusNoContent,
			want: map[string]string{
				"Access-Control-Allow-Origin":  "*",
				"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
				"Access-Control-Allow-Headers": "Content-Type",
				"Access-Control-Max-Age":       "86400",
			},
			wantVary: []string{"Origin", "Access-Control-Request-Method", "Access-Control-Request-Headers"},
		},
		{
			name:   "preflight echoes requested headers",
			cfg:    CORSConfig{},
			method: http.MethodOptions,
			headers: map[string]string{
				"Origin":                         "https://shop.example",
				"Access-Control-Request-Method":  http.MethodPost,
				"Access-Control-Request-Headers": "X-Request-ID",
			},
			wantStatus: http.StatusNoContent,
			want: map[string]string{
				"Access-Control-Allow-Headers": "X-Request-ID",
				"Access-Control-Max-Age":       "",
			},
		},
		{
			name:   "preflight from unlisted origin",
			cfg:    CORSConfig{Origins: []string{"https://shop.example"}},
			method: http.MethodOptions,
			headers: map[string]string{
				"Origin":                        "https://evil.example",
				"Access-Control-Request-Method": http.MethodPost,
			},
			wantStatus: http.StatusNoContent,
			want: map[string]string{
				"Access-Control-Allow-Origin":  "",
				"Access-Control-Allow-Methods": "",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := CORS(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/orders", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantNext, called)
			for k, v := range tt.want {
				assert.Equal(t, v, w.Header().Get(k), k)
			}
			if tt.wantVary != nil {
				assert.Equal(t, tt.wantVary, w.Header().Values("Vary"))
			}
		})
	}
}
