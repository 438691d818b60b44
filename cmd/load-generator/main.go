package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/unistay/roomshare/internal/platform/metrics"
)

type config struct {
	ShareAPIBase            string
	Users                   int
	PosterRatio             float64
	SetupConcurrency        int
	StartupWait             time.Duration
	Duration                time.Duration
	RampUp                  time.Duration
	ActionsPerUserPerSecond float64
	RequestTimeout          time.Duration
	MetricsAddr             string
	Password                string
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
}

type shareResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Applications []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"applications"`
}

type applicationResponse struct {
	Share       shareResponse `json:"share"`
	Application struct {
		ID string `json:"id"`
	} `json:"application"`
}

type matchesResponse struct {
	Matches []struct {
		Share shareResponse `json:"Share"`
		Score int           `json:"Score"`
	} `json:"matches"`
}

type pendingApplication struct {
	ShareID       string
	ApplicationID string
}

type simulatedUser struct {
	Index       int
	Username    string
	Password    string
	ClientIP    string
	UserID      string
	AccessToken string
	ShareID     string

	mu           sync.Mutex
	knownShares  []string
	applications []pendingApplication
}

type runner struct {
	cfg       config
	runID     string
	apiClient *http.Client

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	activeVUs       atomic.Int64
}

var (
	requestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "roomshare_loadgen_requests_total",
		Help: "Total HTTP requests sent by the load generator.",
	}, []string{"endpoint", "method", "status", "outcome"})

	actionsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "roomshare_loadgen_actions_total",
		Help: "User actions executed by the load generator.",
	}, []string{"action", "outcome"})

	virtualUsersGauge = metrics.NewGauge(metrics.Opts{
		Name: "roomshare_loadgen_virtual_users",
		Help: "Current number of active virtual users sending actions.",
	})
)

func init() {
	metrics.Default.MustRegister(requestsTotal, actionsTotal, virtualUsersGauge)
}

func main() {
	cfg := loadConfig()
	if cfg.Users <= 0 {
		log.Fatal("LOADGEN_USERS must be > 0")
	}
	if cfg.SetupConcurrency <= 0 {
		log.Fatal("LOADGEN_SETUP_CONCURRENCY must be > 0")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	go runMetricsServer(cfg.MetricsAddr)

	transport := &http.Transport{
		MaxIdleConns:        cfg.Users * 4,
		MaxIdleConnsPerHost: cfg.Users * 4,
		IdleConnTimeout:     90 * time.Second,
	}

	r := &runner{
		cfg:   cfg,
		runID: strconv.FormatInt(time.Now().UTC().UnixNano(), 10),
		apiClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
	}

	if err := r.waitForDependencies(ctx); err != nil {
		log.Fatalf("dependency readiness failed: %v", err)
	}

	users := r.setupUsers(ctx)
	if len(users) == 0 {
		log.Fatal("failed to initialize any users")
	}
	log.Printf("load generator initialized: users=%d duration=%s rate_per_user=%.2f req/s",
		len(users), cfg.Duration.String(), cfg.ActionsPerUserPerSecond)

	go r.logProgress(ctx)

	var wg sync.WaitGroup
	for idx := range users {
		user := users[idx]
		wg.Add(1)
		go func(u *simulatedUser) {
			defer wg.Done()
			r.runUser(ctx, u)
		}(user)
	}

	<-ctx.Done()
	wg.Wait()

	log.Printf("load test complete: success_requests=%d error_requests=%d",
		r.requestsSuccess.Load(), r.requestsError.Load())
}

func loadConfig() config {
	return config{
		ShareAPIBase:            trimRightSlash(stringEnv("LOADGEN_SHARE_API_BASE", "http://share-api:8080")),
		Users:                   intEnv("LOADGEN_USERS", 200),
		PosterRatio:             floatEnv("LOADGEN_POSTER_RATIO", 0.25),
		SetupConcurrency:        intEnv("LOADGEN_SETUP_CONCURRENCY", 25),
		StartupWait:             durationEnv("LOADGEN_STARTUP_WAIT", 2*time.Minute),
		Duration:                durationEnv("LOADGEN_DURATION", 10*time.Minute),
		RampUp:                  durationEnv("LOADGEN_RAMP_UP", 30*time.Second),
		ActionsPerUserPerSecond: floatEnv("LOADGEN_ACTIONS_PER_USER_PER_SECOND", 0.3),
		RequestTimeout:          durationEnv("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:             stringEnv("LOADGEN_METRICS_ADDR", ":9099"),
		Password:                stringEnv("LOADGEN_PASSWORD", "load-test-pass-123"),
	}
}

func (r *runner) waitForDependencies(ctx context.Context) error {
	wait := r.cfg.StartupWait
	if wait <= 0 {
		wait = 2 * time.Minute
	}
	if err := r.waitForHTTPStatus(ctx, r.cfg.ShareAPIBase+"/readyz", http.StatusOK, wait); err != nil {
		return fmt.Errorf("share-api not ready: %w", err)
	}
	return nil
}

func (r *runner) waitForHTTPStatus(ctx context.Context, requestURL string, expectedStatus int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			lastErr = err
			time.Sleep(1200 * time.Millisecond)
			continue
		}
		resp, err := r.apiClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(1200 * time.Millisecond)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode == expectedStatus {
			return nil
		}
		lastErr = fmt.Errorf("status=%d", resp.StatusCode)
		time.Sleep(1200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) setupUsers(ctx context.Context) []*simulatedUser {
	type setupResult struct {
		user *simulatedUser
		err  error
	}

	sem := make(chan struct{}, r.cfg.SetupConcurrency)
	results := make(chan setupResult, r.cfg.Users)
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Users; i++ {
		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			user, err := r.setupSingleUser(ctx, idx)
			results <- setupResult{user: user, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	users := make([]*simulatedUser, 0, r.cfg.Users)
	failures := 0
	for result := range results {
		if result.err != nil {
			failures++
			log.Printf("user setup failed: %v", result.err)
			continue
		}
		users = append(users, result.user)
	}
	log.Printf("user setup complete: success=%d failed=%d", len(users), failures)
	return users
}

func (r *runner) setupSingleUser(ctx context.Context, idx int) (*simulatedUser, error) {
	user := &simulatedUser{
		Index:    idx,
		Username: fmt.Sprintf("load-%s-%04d", r.runID, idx),
		Password: r.cfg.Password,
		ClientIP: fmt.Sprintf("10.0.%d.%d", 1+(idx/250), 1+(idx%250)),
	}
	rng := rand.New(rand.NewSource(int64(idx)*9973 + 17))

	var auth authResponse
	status, err := r.requestJSON(ctx, user, "register", http.MethodPost, r.cfg.ShareAPIBase+"/api/v1/auth/register", map[string]string{
		"username": user.Username,
		"password": user.Password,
	}, nil, &auth, http.StatusCreated, http.StatusConflict)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", user.Username, err)
	}

	if status == http.StatusConflict {
		auth = authResponse{}
		if _, err := r.requestJSON(ctx, user, "login", http.MethodPost, r.cfg.ShareAPIBase+"/api/v1/auth/login", map[string]string{
			"username": user.Username,
			"password": user.Password,
		}, nil, &auth, http.StatusOK); err != nil {
			return nil, fmt.Errorf("login %s: %w", user.Username, err)
		}
	}

	if strings.TrimSpace(auth.AccessToken) == "" {
		return nil, fmt.Errorf("empty access token for %s", user.Username)
	}
	user.AccessToken = auth.AccessToken
	user.UserID = auth.UserID

	if _, err := r.requestJSON(ctx, user, "save_profile", http.MethodPut, r.cfg.ShareAPIBase+"/api/v1/profile",
		randomProfile(rng), &user.AccessToken, nil, http.StatusOK); err != nil {
		return nil, fmt.Errorf("save profile for %s: %w", user.Username, err)
	}

	if rng.Float64() < r.cfg.PosterRatio {
		var share shareResponse
		if _, err := r.requestJSON(ctx, user, "create_share", http.MethodPost, r.cfg.ShareAPIBase+"/api/v1/shares",
			randomShare(rng, user.Index), &user.AccessToken, &share, http.StatusCreated); err != nil {
			return nil, fmt.Errorf("create share for %s: %w", user.Username, err)
		}
		if strings.TrimSpace(share.ID) == "" {
			return nil, fmt.Errorf("empty share id for %s", user.Username)
		}
		user.ShareID = share.ID
	}

	return user, nil
}

func randomProfile(rng *rand.Rand) map[string]any {
	genders := []string{"male", "female", "other"}
	lifestyles := [][]string{
		{"study_focused"},
		{"early_riser", "study_focused"},
		{"social", "night_owl"},
		{"fitness"},
	}
	preferences := [][]string{
		{"non-smoker"},
		{"non-smoker", "vegetarian"},
		{"pet-friendly"},
		{"non-smoker", "quiet"},
	}
	return map[string]any{
		"gender":      genders[rng.Intn(len(genders))],
		"age":         18 + rng.Intn(12),
		"preferences": preferences[rng.Intn(len(preferences))],
		"lifestyle":   lifestyles[rng.Intn(len(lifestyles))],
		"budget":      3000 + rng.Int63n(5000),
	}
}

func randomShare(rng *rand.Rand, idx int) map[string]any {
	return map[string]any{
		"property_id":      fmt.Sprintf("prop-load-%04d", idx),
		"max_participants": 2 + rng.Intn(5),
		"requirements": map[string]any{
			"gender":      "any",
			"min_age":     18,
			"max_age":     32,
			"preferences": []string{"non-smoker"},
			"lifestyle":   []string{"study_focused"},
		},
		"costs": map[string]any{
			"monthly_rent":        8000 + rng.Int63n(8000),
			"security_deposit":    15000 + rng.Int63n(15000),
			"maintenance_charges": rng.Int63n(2000),
			"utilities_amount":    rng.Int63n(1500),
		},
		"available_from": time.Now().UTC().AddDate(0, 0, rng.Intn(30)).Format(time.RFC3339),
	}
}

func (r *runner) runUser(ctx context.Context, user *simulatedUser) {
	if r.cfg.RampUp > 0 {
		delay := time.Duration((float64(r.cfg.RampUp) / float64(maxInt(r.cfg.Users, 1))) * float64(user.Index))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	virtualUsersGauge.Inc()
	r.activeVUs.Add(1)
	defer virtualUsersGauge.Dec()
	defer r.activeVUs.Add(-1)

	interval := time.Second
	if r.cfg.ActionsPerUserPerSecond > 0 {
		interval = time.Duration(float64(time.Second) / r.cfg.ActionsPerUserPerSecond)
		if interval < 25*time.Millisecond {
			interval = 25 * time.Millisecond
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(user.Index*7)))
	initialJitter := time.Duration(rng.Int63n(int64(interval)))
	select {
	case <-ctx.Done():
		return
	case <-time.After(initialJitter):
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runAction(ctx, user, rng)
		}
	}
}

func (r *runner) runAction(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	if user.ShareID != "" && rng.Float64() < 0.40 {
		r.reviewApplications(ctx, user, rng)
		return
	}

	choice := rng.Float64()
	switch {
	case choice < 0.45:
		r.browseMatches(ctx, user, rng)
	case choice < 0.85:
		r.applyToShare(ctx, user, rng)
	default:
		r.withdrawApplication(ctx, user, rng)
	}
}

func (r *runner) browseMatches(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	var resp matchesResponse
	requestURL := fmt.Sprintf("%s/api/v1/matches?max_budget=%d&limit=20", r.cfg.ShareAPIBase, 4000+rng.Int63n(5000))
	if _, err := r.requestJSON(ctx, user, "matches", http.MethodGet, requestURL, nil, &user.AccessToken, &resp, http.StatusOK); err != nil {
		actionsTotal.WithLabelValues("browse", "error").Inc()
		return
	}
	for _, match := range resp.Matches {
		user.addKnownShare(match.Share.ID)
	}
	actionsTotal.WithLabelValues("browse", "success").Inc()
}

func (r *runner) applyToShare(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	shareID, ok := user.randomKnownShare(rng)
	if !ok {
		r.browseMatches(ctx, user, rng)
		return
	}

	var resp applicationResponse
	_, err := r.requestJSON(ctx, user, "apply", http.MethodPost,
		r.cfg.ShareAPIBase+"/api/v1/shares/"+shareID+"/applications",
		map[string]string{"message": fmt.Sprintf("load application %d", rng.Intn(1_000_000))},
		&user.AccessToken, &resp, http.StatusCreated, http.StatusConflict)
	if err != nil {
		actionsTotal.WithLabelValues("apply", "error").Inc()
		return
	}
	if strings.TrimSpace(resp.Application.ID) != "" {
		user.addApplication(pendingApplication{ShareID: shareID, ApplicationID: resp.Application.ID})
	}
	actionsTotal.WithLabelValues("apply", "success").Inc()
}

// reviewApplications plays the poster: fetch the share and decide one pending
// application, mostly accepting. Accepting a full room is an expected 409.
func (r *runner) reviewApplications(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	var share shareResponse
	if _, err := r.requestJSON(ctx, user, "get_share", http.MethodGet,
		r.cfg.ShareAPIBase+"/api/v1/shares/"+user.ShareID, nil, &user.AccessToken, &share, http.StatusOK); err != nil {
		actionsTotal.WithLabelValues("review", "error").Inc()
		return
	}

	var pending []string
	for _, application := range share.Applications {
		if application.Status == "pending" {
			pending = append(pending, application.ID)
		}
	}
	if len(pending) == 0 {
		actionsTotal.WithLabelValues("review", "success").Inc()
		return
	}

	applicationID := pending[rng.Intn(len(pending))]
	accept := rng.Float64() < 0.7
	_, err := r.requestJSON(ctx, user, "respond", http.MethodPost,
		r.cfg.ShareAPIBase+"/api/v1/shares/"+user.ShareID+"/applications/"+applicationID+"/response",
		map[string]any{"accept": accept, "message": "load decision"},
		&user.AccessToken, nil, http.StatusOK, http.StatusConflict)
	if err != nil {
		actionsTotal.WithLabelValues("review", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("review", "success").Inc()
}

func (r *runner) withdrawApplication(ctx context.Context, user *simulatedUser, rng *rand.Rand) {
	application, ok := user.randomApplication(rng)
	if !ok {
		r.browseMatches(ctx, user, rng)
		return
	}

	// A 409 means the poster already decided it; drop it either way.
	_, err := r.requestJSON(ctx, user, "withdraw", http.MethodPost,
		r.cfg.ShareAPIBase+"/api/v1/shares/"+application.ShareID+"/applications/"+application.ApplicationID+"/withdraw",
		nil, &user.AccessToken, nil, http.StatusOK, http.StatusConflict)
	user.removeApplication(application.ApplicationID)
	if err != nil {
		actionsTotal.WithLabelValues("withdraw", "error").Inc()
		return
	}
	actionsTotal.WithLabelValues("withdraw", "success").Inc()
}

func (r *runner) requestJSON(
	ctx context.Context,
	user *simulatedUser,
	endpoint, method, requestURL string,
	payload any,
	bearerToken *string,
	out any,
	expectedStatuses ...int,
) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Forwarded-For", user.ClientIP)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != nil && strings.TrimSpace(*bearerToken) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(*bearerToken))
	}

	resp, err := r.apiClient.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, method, "0", "error").Inc()
		r.requestsError.Add(1)
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		requestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(resp.StatusCode), "error").Inc()
		r.requestsError.Add(1)
		return resp.StatusCode, readErr
	}

	statusText := strconv.Itoa(resp.StatusCode)
	if isExpectedStatus(resp.StatusCode, expectedStatuses) {
		requestsTotal.WithLabelValues(endpoint, method, statusText, "success").Inc()
		r.requestsSuccess.Add(1)
		if out != nil && len(responseBody) > 0 {
			if err := json.Unmarshal(responseBody, out); err != nil {
				return resp.StatusCode, err
			}
		}
		return resp.StatusCode, nil
	}

	requestsTotal.WithLabelValues(endpoint, method, statusText, "error").Inc()
	r.requestsError.Add(1)
	return resp.StatusCode, fmt.Errorf("unexpected status=%d body=%s", resp.StatusCode, truncate(string(responseBody), 240))
}

func (r *runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("progress: success_requests=%d error_requests=%d active_vus=%d",
				r.requestsSuccess.Load(),
				r.requestsError.Load(),
				r.activeVUs.Load(),
			)
		}
	}
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("load generator metrics endpoint listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("load generator metrics server failed: %v", err)
	}
}

func (u *simulatedUser) addKnownShare(shareID string) {
	shareID = strings.TrimSpace(shareID)
	if shareID == "" || shareID == u.ShareID {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, existing := range u.knownShares {
		if existing == shareID {
			return
		}
	}
	u.knownShares = append(u.knownShares, shareID)
}

func (u *simulatedUser) randomKnownShare(rng *rand.Rand) (string, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.knownShares) == 0 {
		return "", false
	}
	return u.knownShares[rng.Intn(len(u.knownShares))], true
}

func (u *simulatedUser) addApplication(application pendingApplication) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.applications = append(u.applications, application)
}

func (u *simulatedUser) randomApplication(rng *rand.Rand) (pendingApplication, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.applications) == 0 {
		return pendingApplication{}, false
	}
	return u.applications[rng.Intn(len(u.applications))], true
}

func (u *simulatedUser) removeApplication(applicationID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for idx, existing := range u.applications {
		if existing.ApplicationID != applicationID {
			continue
		}
		u.applications[idx] = u.applications[len(u.applications)-1]
		u.applications = u.applications[:len(u.applications)-1]
		return
	}
}

func trimRightSlash(v string) string {
	return strings.TrimRight(strings.TrimSpace(v), "/")
}

func isExpectedStatus(status int, expected []int) bool {
	for _, candidate := range expected {
		if status == candidate {
			return true
		}
	}
	return false
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max] + "..."
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func stringEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func floatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
