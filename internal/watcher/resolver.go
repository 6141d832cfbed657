package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/blikh/xui-stars-bot/internal/geoip"
)

const (
	resolveCacheTTL = 12 * time.Hour
	apiMinInterval  = 2 * time.Second // free ip-api tier allows 45 req/min
	apiTimeout      = 5 * time.Second
	ipAPIEndpoint   = "http://ip-api.com/json/%s?fields=countryCode"
)

type cachedCountry struct {
	code string
	at   time.Time
}

// Resolver maps IPs to ISO country codes: local MMDB first, then a
// rate-bounded ip-api.com fallback, with a TTL cache in front of both.
// Remote lookups run in the background, so Country never blocks the
// log-tail hot path; an unknown IP answers "" now and resolves from the
// cache on a later call.
type Resolver struct {
	db       *geoip.DB
	client   *http.Client
	logger   *slog.Logger
	endpoint string

	mu       sync.Mutex
	cache    map[netip.Addr]cachedCountry
	inflight map[netip.Addr]struct{}
	lastAPI  time.Time
}

func NewResolver(db *geoip.DB, logger *slog.Logger) *Resolver {
	return &Resolver{
		db:       db,
		client:   &http.Client{Timeout: apiTimeout},
		logger:   logger,
		endpoint: ipAPIEndpoint,
		cache:    make(map[netip.Addr]cachedCountry),
		inflight: make(map[netip.Addr]struct{}),
	}
}

// Country resolves addr to an ISO code, or "" when nothing knows it yet.
func (r *Resolver) Country(ctx context.Context, addr netip.Addr) string {
	if !addr.IsValid() || addr.IsPrivate() || addr.IsLoopback() {
		return ""
	}

	r.mu.Lock()
	if c, ok := r.cache[addr]; ok && time.Since(c.at) < resolveCacheTTL {
		r.mu.Unlock()
		return c.code
	}
	r.mu.Unlock()

	if code := r.db.LookupCountry(addr); code != "" {
		r.remember(addr, code)
		return code
	}

	r.mu.Lock()
	if _, busy := r.inflight[addr]; busy {
		r.mu.Unlock()
		return ""
	}
	r.inflight[addr] = struct{}{}
	r.mu.Unlock()

	go func() {
		code, ok := r.queryAPI(ctx, addr)
		r.mu.Lock()
		delete(r.inflight, addr)
		r.mu.Unlock()
		if ok {
			r.remember(addr, code)
		}
	}()
	return ""
}

func (r *Resolver) remember(addr netip.Addr, code string) {
	r.mu.Lock()
	r.cache[addr] = cachedCountry{code: code, at: time.Now()}
	r.mu.Unlock()
}

// queryAPI asks ip-api.com, dropping the request entirely when the
// rate budget is exhausted. ok reports whether an answer was actually
// obtained; rate-dropped and failed requests are not cached, so the
// next sighting of the IP retries.
func (r *Resolver) queryAPI(ctx context.Context, addr netip.Addr) (code string, ok bool) {
	r.mu.Lock()
	if time.Since(r.lastAPI) < apiMinInterval {
		r.mu.Unlock()
		return "", false
	}
	r.lastAPI = time.Now()
	r.mu.Unlock()

	url := fmt.Sprintf(r.endpoint, addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("ip-api lookup failed", "ip", addr, "err", err)
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var body struct {
		CountryCode string `json:"countryCode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", false
	}
	return body.CountryCode, true
}

// FlagEmoji converts a two-letter ISO code to its regional-indicator
// flag, or 🌐 when the country is unknown.
func FlagEmoji(iso string) string {
	if len(iso) != 2 {
		return "🌐"
	}
	out := make([]rune, 0, 2)
	for _, c := range iso {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if c < 'A' || c > 'Z' {
			return "🌐"
		}
		out = append(out, 0x1F1E6+c-'A')
	}
	return string(out)
}
