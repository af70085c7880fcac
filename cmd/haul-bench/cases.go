// README: Bench cases: environment, schema, API contract, accept contention and load checks.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"haul/internal/infra"
	"haul/migrations"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: pingDB},
		{Name: "Env: Redis connect", Run: pingRedis},
		{Name: "Migration: apply (optional)", Run: applyMigrations},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", "", nil, http.StatusOK)
		}},
		{Name: "API: metrics", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/metrics", "", nil, http.StatusOK)
		}},
		{Name: "API: unauthenticated request rejected", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/bookings/mine", "", nil, http.StatusUnauthorized)
		}},
		{Name: "API: estimate truck 10km", Run: estimateTruck},
		{Name: "API: invalid vehicle class rejected", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.UserToken == "" {
				return Result{Status: statusSkip, Note: "no user token"}
			}
			return r.expect(ctx, http.MethodGet, "/api/pricing/estimate?vehicle_class=boat&distance_km=1", r.cfg.UserToken, nil, http.StatusBadRequest)
		}},
		{Name: "Concurrency: multi accept same booking", Run: concurrentAccept},
		{Name: "Perf: driver location throughput", Run: func(ctx context.Context, r *Runner) Result {
			if len(r.cfg.DriverTokens) == 0 {
				return Result{Status: statusSkip, Note: "no driver tokens"}
			}
			body := map[string]any{"lat": 25.0478, "lng": 121.5170}
			return perfLoad(ctx, r, http.MethodPut, "/api/drivers/me/location", r.cfg.DriverTokens[0], body)
		}},
		{Name: "Perf: estimate throughput", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.UserToken == "" {
				return Result{Status: statusSkip, Note: "no user token"}
			}
			return perfLoad(ctx, r, http.MethodGet, "/api/pricing/estimate?vehicle_class=car&distance_km=7.5", r.cfg.UserToken, nil)
		}},
	}
}

func pingDB(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func pingRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusFail, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func applyMigrations(_ context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if err := infra.Migrate(r.cfg.DSN); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	tables, err := expectedTables()
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var ok bool
		if err := r.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, "public."+t).Scan(&ok); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !ok {
			return Result{Status: statusFail, Note: "missing table " + t}
		}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("%d tables", len(tables))}
}

var createTable = regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)

// expectedTables lists every table the embedded up migrations create.
func expectedTables() ([]string, error) {
	files, err := fs.Glob(migrations.FS, "*.up.sql")
	if err != nil {
		return nil, err
	}
	var tables []string
	for _, f := range files {
		b, err := fs.ReadFile(migrations.FS, f)
		if err != nil {
			return nil, err
		}
		for _, m := range createTable.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}

func estimateTruck(ctx context.Context, r *Runner) Result {
	if r.cfg.UserToken == "" {
		return Result{Status: statusSkip, Note: "no user token"}
	}
	var quote struct {
		Surge float64 `json:"surge_multiplier"`
		Total float64 `json:"total"`
	}
	start := time.Now()
	status, err := r.call(ctx, http.MethodGet, "/api/pricing/estimate?vehicle_class=truck&distance_km=10", r.cfg.UserToken, nil, &quote)
	latency := time.Since(start)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if status != http.StatusOK {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
	}
	if want := 250 * quote.Surge; math.Abs(quote.Total-want) > 1e-9 {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("total=%.2f want %.2f", quote.Total, want)}
	}
	return Result{Status: statusPass, Latency: latency, Note: fmt.Sprintf("surge=%.1f", quote.Surge)}
}

// concurrentAccept creates one booking and races every driver token on it.
// Exactly one accept may win; the booking is cancelled afterwards to release
// the winner.
func concurrentAccept(ctx context.Context, r *Runner) Result {
	if r.cfg.UserToken == "" || len(r.cfg.DriverTokens) < 2 {
		return Result{Status: statusSkip, Note: "needs a user token and at least two driver tokens"}
	}
	var created struct {
		ID string `json:"id"`
	}
	body := map[string]any{
		"pickup":        map[string]any{"label": "Bench pickup", "point": map[string]any{"lat": 25.0478, "lng": 121.5170}},
		"dropoff":       map[string]any{"label": "Bench dropoff", "point": map[string]any{"lat": 25.0330, "lng": 121.5654}},
		"vehicle_class": "truck",
	}
	status, err := r.call(ctx, http.MethodPost, "/api/bookings", r.cfg.UserToken, body, &created)
	if err != nil || status != http.StatusCreated {
		return Result{Status: statusFail, Note: fmt.Sprintf("create status=%d err=%v", status, err)}
	}

	var won, lost, other int32
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, token := range r.cfg.DriverTokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			<-start
			code, err := r.call(ctx, http.MethodPost, "/api/bookings/"+created.ID+"/accept", token, nil, nil)
			switch {
			case err == nil && code == http.StatusOK:
				atomic.AddInt32(&won, 1)
			case err == nil && code == http.StatusConflict:
				atomic.AddInt32(&lost, 1)
			default:
				atomic.AddInt32(&other, 1)
			}
		}(token)
	}
	begin := time.Now()
	close(start)
	wg.Wait()
	latency := time.Since(begin)

	_, _ = r.call(ctx, http.MethodPost, "/api/bookings/"+created.ID+"/cancel", r.cfg.UserToken, nil, nil)

	note := fmt.Sprintf("won=%d lost=%d other=%d", won, lost, other)
	if won == 1 && other == 0 {
		return Result{Status: statusPass, Latency: latency, Note: note}
	}
	return Result{Status: statusFail, Latency: latency, Note: note}
}

func perfLoad(ctx context.Context, r *Runner, method, path, token string, payload any) Result {
	var b []byte
	if payload != nil {
		b, _ = json.Marshal(payload)
	}
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				req, _ := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, bytes.NewReader(b))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Authorization", "Bearer "+token)
				resp, err := r.httpc.Do(req)
				if err != nil {
					atomic.AddInt64(&errCount, 1)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				if resp.StatusCode >= 400 {
					atomic.AddInt64(&errCount, 1)
					continue
				}
				atomic.AddInt64(&count, 1)
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("no requests succeeded, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func (r *Runner) expect(ctx context.Context, method, path, token string, body any, want int) Result {
	start := time.Now()
	status, err := r.call(ctx, method, path, token, body, nil)
	latency := time.Since(start)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if status != want {
		return Result{Status: statusFail, Latency: latency, Note: fmt.Sprintf("status=%d want %d", status, want)}
	}
	return Result{Status: statusPass, Latency: latency}
}

// call sends a JSON request and decodes a 2xx body into out when non-nil.
func (r *Runner) call(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
