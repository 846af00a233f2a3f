package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kevinmarty69/know-your-agent/internal/audit"
	"github.com/kevinmarty69/know-your-agent/internal/canonical"
	"github.com/kevinmarty69/know-your-agent/internal/config"
	"github.com/kevinmarty69/know-your-agent/internal/model"
	"github.com/kevinmarty69/know-your-agent/internal/ratelimit"
	"github.com/kevinmarty69/know-your-agent/internal/store"
)

const testBootstrapToken = "test-bootstrap-token"

func writeTestKeyFiles(t *testing.T, dir string) (privPath, pubPath string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	privPath = filepath.Join(dir, "signing.pem")
	pubPath = filepath.Join(dir, "signing.pub.pem")
	if err := os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	if err := os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privPath, pubPath
}

func newTestServer(t *testing.T, bootstrapToken string) *Server {
	t.Helper()
	dir := t.TempDir()
	privPath, pubPath := writeTestKeyFiles(t, dir)

	cfg := config.DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "kya.db")
	cfg.BootstrapToken = bootstrapToken
	cfg.Signing = config.SigningConfig{KeyID: "kid-1", PrivateKeyFile: privPath, PublicKeyFile: pubPath}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv, err := New(cfg, zap.NewNop(), st, ratelimit.NewMemoryCounter())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path string, headers map[string]string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
		dec := json.NewDecoder(bytes.NewReader(rec.Body.Bytes()))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

// signEnvelope produces the base64 signature over the canonical
// envelope digest, the same construction agent SDKs use.
func signEnvelope(t *testing.T, key ed25519.PrivateKey, agentID, wsID, actionType, targetService string, payload map[string]any, jti string) string {
	t.Helper()
	digest, err := canonical.Digest(map[string]any{
		"agent_id":       agentID,
		"workspace_id":   wsID,
		"action_type":    actionType,
		"target_service": targetService,
		"payload":        payload,
		"capability_jti": jti,
	})
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, digest[:]))
}

// --- Bootstrap and auth tests ---

func TestBootstrapGuards(t *testing.T) {
	srv := newTestServer(t, testBootstrapToken)

	rec, body := doRequest(t, srv, http.MethodPost, "/workspaces", nil, map[string]any{"name": "Acme"})
	if rec.Code != http.StatusUnauthorized || errorCode(t, body) != "AUTH_BOOTSTRAP_MISSING" {
		t.Fatalf("no token: %d %s", rec.Code, rec.Body.String())
	}

	rec, body = doRequest(t, srv, http.MethodPost, "/workspaces",
		map[string]string{"X-Bootstrap-Token": "wrong"}, map[string]any{"name": "Acme"})
	if rec.Code != http.StatusUnauthorized || errorCode(t, body) != "AUTH_BOOTSTRAP_INVALID" {
		t.Fatalf("wrong token: %d %s", rec.Code, rec.Body.String())
	}
}

func TestBootstrapDisabled(t *testing.T) {
	srv := newTestServer(t, "")
	rec, body := doRequest(t, srv, http.MethodPost, "/workspaces",
		map[string]string{"X-Bootstrap-Token": "anything"}, map[string]any{"name": "Acme"})
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, body) != "WORKSPACE_BOOTSTRAP_DISABLED" {
		t.Fatalf("bootstrap disabled: %d %s", rec.Code, rec.Body.String())
	}
}

func TestWorkspaceHeaderRequired(t *testing.T) {
	srv := newTestServer(t, testBootstrapToken)
	rec, body := doRequest(t, srv, http.MethodPost, "/agents", nil, map[string]any{"name": "a"})
	if rec.Code != http.StatusUnauthorized || errorCode(t, body) != "AUTH_WORKSPACE_MISSING" {
		t.Fatalf("missing header: %d %s", rec.Code, rec.Body.String())
	}
}

func TestWorkspaceMismatchRejected(t *testing.T) {
	srv := newTestServer(t, testBootstrapToken)
	rec, body := doRequest(t, srv, http.MethodPost, "/agents",
		map[string]string{"X-Workspace-Id": "ws-a"},
		map[string]any{"workspace_id": "ws-b", "name": "a", "public_key": "irrelevant"})
	if rec.Code != http.StatusForbidden || errorCode(t, body) != "WORKSPACE_MISMATCH" {
		t.Fatalf("mismatched workspace: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, testBootstrapToken)
	rec, body := doRequest(t, srv, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}
}

// --- Reference flow ---

func TestReferenceFlow(t *testing.T) {
	srv := newTestServer(t, testBootstrapToken)
	bootstrap := map[string]string{"X-Bootstrap-Token": testBootstrapToken}

	rec, body := doRequest(t, srv, http.MethodPost, "/workspaces", bootstrap, map[string]any{"name": "Acme Corp"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create workspace: %d %s", rec.Code, rec.Body.String())
	}
	wsID := body["id"].(string)
	if body["slug"] != "acme-corp" {
		t.Fatalf("slug = %v, want acme-corp", body["slug"])
	}
	tenant := map[string]string{"X-Workspace-Id": wsID}

	agentPub, agentPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate agent key: %v", err)
	}
	rec, body = doRequest(t, srv, http.MethodPost, "/agents", tenant, map[string]any{
		"workspace_id": wsID,
		"name":         "checkout-bot",
		"public_key":   base64.StdEncoding.EncodeToString(agentPub),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create agent: %d %s", rec.Code, rec.Body.String())
	}
	agentID := body["id"].(string)
	if body["status"] != "active" {
		t.Fatalf("agent status = %v", body["status"])
	}

	rec, body = doRequest(t, srv, http.MethodPost, "/policies", tenant, map[string]any{
		"workspace_id": wsID,
		"name":         "purchase-policy",
		"version":      1,
		"policy_json": map[string]any{
			"allowed_tools": []string{"purchase"},
			"spend":         map[string]any{"currency": "EUR", "max_per_tx": 100},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create policy: %d %s", rec.Code, rec.Body.String())
	}
	policyID := body["id"].(string)

	rec, body = doRequest(t, srv, http.MethodGet, "/policies/"+policyID, tenant, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get policy: %d %s", rec.Code, rec.Body.String())
	}
	if body["name"] != "purchase-policy" || body["is_active"] != true {
		t.Fatalf("get policy body = %v", body)
	}

	rec, _ = doRequest(t, srv, http.MethodPost, "/agents/"+agentID+"/bind_policy", tenant, map[string]any{
		"workspace_id": wsID,
		"policy_id":    policyID,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("bind policy: %d %s", rec.Code, rec.Body.String())
	}

	rec, body = doRequest(t, srv, http.MethodPost, "/capabilities/request", tenant, map[string]any{
		"workspace_id":     wsID,
		"agent_id":         agentID,
		"action":           "purchase",
		"target_service":   "shop-api",
		"requested_scopes": []string{"purchase"},
		"requested_limits": map[string]any{"amount": 18},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("request capability: %d %s", rec.Code, rec.Body.String())
	}
	token := body["token"].(string)
	jti := body["jti"].(string)

	payload := map[string]any{"amount": json.Number("18"), "item": "sku-001"}
	verifyBody := map[string]any{
		"workspace_id":     wsID,
		"agent_id":         agentID,
		"action_type":      "purchase",
		"target_service":   "shop-api",
		"payload":          payload,
		"signature":        signEnvelope(t, agentPriv, agentID, wsID, "purchase", "shop-api", payload, jti),
		"capability_token": token,
	}
	rec, body = doRequest(t, srv, http.MethodPost, "/verify", tenant, verifyBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", rec.Code, rec.Body.String())
	}
	if body["decision"] != "ALLOW" || body["reason_code"] != nil {
		t.Fatalf("decision = %s", rec.Body.String())
	}
	if body["audit_event_id"] == "" {
		t.Fatal("verify response missing audit_event_id")
	}

	rec, _ = doRequest(t, srv, http.MethodPost, "/agents/"+agentID+"/revoke", tenant, map[string]any{
		"workspace_id": wsID,
		"reason":       "credential rotation",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke agent: %d %s", rec.Code, rec.Body.String())
	}

	// The identical call now denies; a denial is still a 200.
	rec, body = doRequest(t, srv, http.MethodPost, "/verify", tenant, verifyBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify after revoke: %d %s", rec.Code, rec.Body.String())
	}
	if body["decision"] != "DENY" || body["reason_code"] != "AGENT_REVOKED" {
		t.Fatalf("decision = %s", rec.Body.String())
	}

	rec, body = doRequest(t, srv, http.MethodGet, "/audit/integrity/check", tenant, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("integrity check: %d %s", rec.Code, rec.Body.String())
	}
	if body["status"] != "OK" {
		t.Fatalf("integrity = %s", rec.Body.String())
	}
	// workspace.created, agent.created, policy.created, policy.bound,
	// capability.issued, agent.revoked, and two events per verify call
	if n, _ := body["checked_count"].(json.Number).Int64(); n != 10 {
		t.Fatalf("checked_count = %v, want 10", body["checked_count"])
	}

	rec, body = doRequest(t, srv, http.MethodGet, "/audit/events?event_type=action.verification.denied", tenant, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list events: %d %s", rec.Code, rec.Body.String())
	}
	if n, _ := body["count"].(json.Number).Int64(); n != 1 {
		t.Fatalf("denied events count = %v, want 1", body["count"])
	}

	rec, _ = doRequest(t, srv, http.MethodGet, "/audit/export.csv", tenant, nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "id,event_time,event_type") {
		t.Fatalf("csv export: %d %q", rec.Code, rec.Body.String())
	}

	rec, _ = doRequest(t, srv, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	metrics := rec.Body.String()
	for _, want := range []string{"kya_verify_total", "kya_audit_integrity_total", "kya_capabilities_issued_total"} {
		if !strings.Contains(metrics, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestVerifyDenialIsNotAnError(t *testing.T) {
	srv := newTestServer(t, testBootstrapToken)
	bootstrap := map[string]string{"X-Bootstrap-Token": testBootstrapToken}

	rec, body := doRequest(t, srv, http.MethodPost, "/workspaces", bootstrap, map[string]any{"name": "Deny Tenant"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create workspace: %d %s", rec.Code, rec.Body.String())
	}
	wsID := body["id"].(string)
	tenant := map[string]string{"X-Workspace-Id": wsID}

	rec, body = doRequest(t, srv, http.MethodPost, "/verify", tenant, map[string]any{
		"workspace_id":     wsID,
		"agent_id":         "00000000-0000-0000-0000-000000000000",
		"action_type":      "purchase",
		"target_service":   "shop-api",
		"payload":          map[string]any{},
		"signature":        "",
		"capability_token": "",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify unknown agent: %d %s", rec.Code, rec.Body.String())
	}
	if body["decision"] != "DENY" || body["reason_code"] != "AGENT_NOT_FOUND" {
		t.Fatalf("decision = %s", rec.Body.String())
	}
}

func TestInvalidJSONBody(t *testing.T) {
	srv := newTestServer(t, testBootstrapToken)
	req := httptest.NewRequest(http.MethodPost, "/workspaces", strings.NewReader("{not json"))
	req.Header.Set("X-Bootstrap-Token", testBootstrapToken)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid json: %d %s", rec.Code, rec.Body.String())
	}
}

// --- Audit export tests ---

func TestExportNotBoundByListPagination(t *testing.T) {
	srv := newTestServer(t, testBootstrapToken)
	bootstrap := map[string]string{"X-Bootstrap-Token": testBootstrapToken}

	rec, body := doRequest(t, srv, http.MethodPost, "/workspaces", bootstrap, map[string]any{"name": "Acme Corp"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create workspace: %d %s", rec.Code, rec.Body.String())
	}
	wsID := body["id"].(string)
	tenant := map[string]string{"X-Workspace-Id": wsID}

	// Push the chain well past the list endpoint's default page of 50.
	err := srv.chain.Locked(wsID, func() error {
		return srv.store.InTx(context.Background(), func(q store.DBTX) error {
			for i := 0; i < 60; i++ {
				_, err := srv.chain.AppendLocked(context.Background(), q, audit.Entry{
					WorkspaceID: wsID,
					EventType:   model.EventAgentCreated,
					SubjectType: "agent",
					SubjectID:   "agent-" + strconv.Itoa(i),
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("append events: %v", err)
	}
	const total = 61 // workspace.created + 60 appended

	rec, _ = doRequest(t, srv, http.MethodGet, "/audit/export.csv", tenant, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export csv: %d %s", rec.Code, rec.Body.String())
	}
	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	if got := len(lines) - 1; got != total {
		t.Fatalf("csv rows = %d, want %d", got, total)
	}

	// Pagination params bind the list endpoint only; exports load every
	// matching event up to the configured cap.
	req := httptest.NewRequest(http.MethodGet, "/audit/export.json?limit=5&offset=10", nil)
	req.Header.Set("X-Workspace-Id", wsID)
	raw := httptest.NewRecorder()
	srv.ServeHTTP(raw, req)
	if raw.Code != http.StatusOK {
		t.Fatalf("export json: %d %s", raw.Code, raw.Body.String())
	}
	var records []map[string]any
	if err := json.Unmarshal(raw.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(records) != total {
		t.Fatalf("json rows = %d, want %d", len(records), total)
	}

	rec, body = doRequest(t, srv, http.MethodGet, "/audit/events", tenant, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list events: %d %s", rec.Code, rec.Body.String())
	}
	if items := body["items"].([]any); len(items) != 50 {
		t.Fatalf("default list page = %d items, want 50", len(items))
	}
}
