package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/digkill/TGImageBot/internal/models"
	"github.com/digkill/TGImageBot/internal/notify"
	"github.com/digkill/TGImageBot/internal/quota"
	"github.com/digkill/TGImageBot/internal/repository/memory"
	"github.com/digkill/TGImageBot/internal/service"
)

type nopSender struct{ sent int }

func (n *nopSender) SendText(context.Context, int64, string) error {
	n.sent++
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *service.UserService) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	sink := notify.Nop{}
	referrals := service.NewReferralService(st.Referrals(), models.ReferralSettings{GenReward: 3, EditReward: 3}, sink, log)
	users := service.NewUserService(st.Users(), st.Usage(), referrals, 1, sink, log)
	plans := service.NewPlanService(st.Plans(), st.Users(), sink, log)
	svc := Services{
		Users:     users,
		Plans:     plans,
		Keys:      service.NewKeyService(st.Keys(), sink, log),
		Referrals: referrals,
		Quota:     service.NewQuotaService(st.Usage(), plans, quota.NewEvaluator(3, 1), log),
		Media:     service.NewMediaService(nil, st.Images(), log),
		Broadcast: service.NewBroadcastService(st.Users(), &nopSender{}, 1000, log),
	}
	srv := httptest.NewServer(NewServer(":0", "admin", "secret", log, svc).Handler())
	t.Cleanup(srv.Close)
	return srv, users
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any, auth bool) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	if resp := do(t, srv, http.MethodGet, "/healthz", nil, false); resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	if resp := do(t, srv, http.MethodGet, "/plans", nil, false); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}
	if resp := do(t, srv, http.MethodGet, "/metrics", nil, true); resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}

func TestPlansAndGrant(t *testing.T) {
	srv, users := newTestServer(t)
	users.Ensure(context.Background(), service.Profile{ID: 7, Username: "bob"}, 0)

	resp := do(t, srv, http.MethodGet, "/plans", nil, true)
	var plans []models.Plan
	json.NewDecoder(resp.Body).Decode(&plans)
	if len(plans) != 4 {
		t.Fatalf("plans = %d, want 4", len(plans))
	}

	resp = do(t, srv, http.MethodPut, "/plans/basic", map[string]any{"price_rub": 499, "gen_quota": map[string]any{"kind": "daily", "limit": 60}}, true)
	var updated models.Plan
	json.NewDecoder(resp.Body).Decode(&updated)
	if resp.StatusCode != http.StatusOK || updated.PriceRub != 499 || updated.GenQuota != models.Daily(60) {
		t.Fatalf("update = %d %+v", resp.StatusCode, updated)
	}
	if resp := do(t, srv, http.MethodPut, "/plans/basic", map[string]any{"gen_quota": map[string]any{"kind": "weekly"}}, true); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad quota status = %d, want 400", resp.StatusCode)
	}
	if resp := do(t, srv, http.MethodPut, "/plans/gold", map[string]any{}, true); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown plan status = %d, want 404", resp.StatusCode)
	}

	if resp := do(t, srv, http.MethodPost, "/plans/basic/grant", map[string]any{"user_id": 7}, true); resp.StatusCode != http.StatusOK {
		t.Fatalf("grant status = %d", resp.StatusCode)
	}
	u, _ := users.Get(context.Background(), 7)
	if u.GenQuota != models.Daily(60) || u.SubscriptionExpiresAt == nil {
		t.Fatalf("granted user = %+v", u)
	}
	if resp := do(t, srv, http.MethodPost, "/plans/basic/grant", map[string]any{"user_id": 8}, true); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("grant unknown user status = %d, want 404", resp.StatusCode)
	}
}

func TestKeys(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := do(t, srv, http.MethodPost, "/keys", map[string]any{"duration_minutes": 60}, true)
	var key models.Key
	json.NewDecoder(resp.Body).Decode(&key)
	if resp.StatusCode != http.StatusCreated || key.Token == "" || key.DurationMinutes == nil || *key.DurationMinutes != 60 {
		t.Fatalf("create key = %d %+v", resp.StatusCode, key)
	}
	if resp := do(t, srv, http.MethodPost, "/keys", map[string]any{"duration_minutes": -1}, true); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative duration status = %d, want 400", resp.StatusCode)
	}
	resp = do(t, srv, http.MethodGet, "/keys", nil, true)
	var keys []models.Key
	json.NewDecoder(resp.Body).Decode(&keys)
	if len(keys) != 1 {
		t.Fatalf("keys = %d, want 1", len(keys))
	}
}

func TestReferralSettings(t *testing.T) {
	srv, _ := newTestServer(t)
	if resp := do(t, srv, http.MethodPut, "/referral-settings", map[string]any{"gen_reward": 99, "edit_reward": 1}, true); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("out of range status = %d, want 400", resp.StatusCode)
	}
	do(t, srv, http.MethodPut, "/referral-settings", map[string]any{"gen_reward": 5, "edit_reward": 2}, true)
	resp := do(t, srv, http.MethodGet, "/referral-settings", nil, true)
	var s models.ReferralSettings
	json.NewDecoder(resp.Body).Decode(&s)
	if s.GenReward != 5 || s.EditReward != 2 {
		t.Fatalf("settings = %+v", s)
	}
}

func TestUserLifecycle(t *testing.T) {
	srv, users := newTestServer(t)
	users.Ensure(context.Background(), service.Profile{ID: 7, Username: "bob"}, 0)

	resp := do(t, srv, http.MethodGet, "/users?q=bob", nil, true)
	var found []models.User
	json.NewDecoder(resp.Body).Decode(&found)
	if len(found) != 1 || found[0].ID != 7 {
		t.Fatalf("search = %+v", found)
	}

	resp = do(t, srv, http.MethodGet, "/users/7", nil, true)
	var detail struct {
		User  models.User `json:"user"`
		Usage struct {
			Generation quota.Decision `json:"generation"`
		} `json:"usage"`
	}
	json.NewDecoder(resp.Body).Decode(&detail)
	if detail.User.ID != 7 || detail.Usage.Generation.Remaining != 3 {
		t.Fatalf("detail = %+v", detail)
	}

	if resp := do(t, srv, http.MethodPost, "/users/7/ban", nil, true); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("ban status = %d", resp.StatusCode)
	}
	if u, _ := users.Get(context.Background(), 7); !u.Banned {
		t.Fatalf("user not banned")
	}
	if resp := do(t, srv, http.MethodPost, "/users/7/unban", nil, true); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unban status = %d", resp.StatusCode)
	}
	if resp := do(t, srv, http.MethodPost, "/users/7/mute", map[string]any{"minutes": 15}, true); resp.StatusCode != http.StatusOK {
		t.Fatalf("mute status = %d", resp.StatusCode)
	}
	if resp := do(t, srv, http.MethodGet, "/users/7/images", nil, true); resp.StatusCode != http.StatusOK {
		t.Fatalf("images status = %d", resp.StatusCode)
	}
	if resp := do(t, srv, http.MethodGet, "/users/abc", nil, true); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", resp.StatusCode)
	}
	if resp := do(t, srv, http.MethodDelete, "/users/7", nil, true); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := do(t, srv, http.MethodDelete, "/users/7", nil, true); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestBroadcastAndAnalytics(t *testing.T) {
	srv, users := newTestServer(t)
	users.Ensure(context.Background(), service.Profile{ID: 7}, 0)
	users.Ensure(context.Background(), service.Profile{ID: 8}, 0)

	if resp := do(t, srv, http.MethodPost, "/broadcast", map[string]any{"message": " "}, true); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty broadcast status = %d, want 400", resp.StatusCode)
	}
	resp := do(t, srv, http.MethodPost, "/broadcast", map[string]any{"message": "hi"}, true)
	var rep service.BroadcastReport
	json.NewDecoder(resp.Body).Decode(&rep)
	if rep.Total != 2 || rep.Sent != 2 {
		t.Fatalf("report = %+v", rep)
	}

	resp = do(t, srv, http.MethodGet, "/analytics", nil, true)
	var a models.Analytics
	json.NewDecoder(resp.Body).Decode(&a)
	if a.TotalUsers != 2 || a.ActiveToday != 2 {
		t.Fatalf("analytics = %+v", a)
	}
}
