package lib

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TecharoHQ/tracecaptcha"
	"github.com/TecharoHQ/tracecaptcha/internal"
	"github.com/TecharoHQ/tracecaptcha/lib/challenge/challengetest"
	"github.com/TecharoHQ/tracecaptcha/lib/geometry"
	"github.com/TecharoHQ/tracecaptcha/lib/policy"
	"github.com/TecharoHQ/tracecaptcha/lib/shape"
	"github.com/TecharoHQ/tracecaptcha/lib/verify"
)

func init() {
	internal.InitSlog("debug")
}

func loadPolicies(t *testing.T, fname string) *policy.ParsedConfig {
	t.Helper()

	pc, err := LoadPoliciesOrDefault(t.Context(), fname)
	if err != nil {
		t.Fatal(err)
	}

	return pc
}

func spawnServer(t *testing.T, opts Options) *Server {
	t.Helper()

	if opts.Policy == nil {
		opts.Policy = loadPolicies(t, "")
	}

	if opts.Shapes == nil {
		cat, err := LoadShapes("", opts.Policy)
		if err != nil {
			t.Fatal(err)
		}
		opts.Shapes = cat
	}

	s, err := New(opts)
	if err != nil {
		t.Fatalf("can't construct lib.Server: %v", err)
	}

	return s
}

func issue(t *testing.T, h http.Handler, query string) ChallengeResponse {
	t.Helper()

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/challenge"+query, nil))

	if rw.Code != http.StatusOK {
		t.Fatalf("wanted 200 issuing a challenge, got %d: %s", rw.Code, rw.Body.String())
	}

	var result ChallengeResponse
	if err := json.NewDecoder(rw.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}

	return result
}

func postVerify(t *testing.T, h http.Handler, req VerifyRequest, lang string) (*httptest.ResponseRecorder, VerifyResponse) {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}

	httpReq := httptest.NewRequest(http.MethodPost, "/api/verify", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	if lang != "" {
		httpReq.Header.Set("Accept-Language", lang)
	}

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httpReq)

	var resp VerifyResponse
	if rw.Code == http.StatusOK {
		if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
	}

	return rw, resp
}

// pixelTrace follows tmpl on a size x size canvas with some tremor and an
// uneven pace.
func pixelTrace(tmpl *shape.Template, size float64) geometry.Stroke {
	result := make(geometry.Stroke, 0, len(tmpl.Points))
	var t float64
	for i, p := range tmpl.Points {
		dx := float64((i*37)%21-10) / 1000
		dy := float64(((i+7)*37)%21-10) / 1000
		result = append(result, geometry.TimedPt((p.X+dx)*size, (p.Y+dy)*size, t))
		t += 14 + 9*math.Sin(0.9*float64(i)) + float64((i*53)%7)
	}
	return result
}

func TestPing(t *testing.T) {
	srv := spawnServer(t, Options{})

	rw := httptest.NewRecorder()
	srv.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rw.Code != http.StatusOK || rw.Body.String() != "OK\n" {
		t.Errorf("wanted OK, got %d %q", rw.Code, rw.Body.String())
	}
}

func TestIssueChallenge(t *testing.T) {
	srv := spawnServer(t, Options{})

	chall := issue(t, srv, "?shape=heart")

	if chall.ID == "" || chall.Shape != "heart" {
		t.Errorf("unexpected challenge: %+v", chall)
	}

	if chall.Outline != "/api/shapes/heart" {
		t.Errorf("wrong outline url %q", chall.Outline)
	}

	if chall.Prompt != "Trace the outline of the heart in one stroke" {
		t.Errorf("wrong prompt %q", chall.Prompt)
	}

	if !srv.Ledger().IsValid(t.Context(), chall.ID) {
		t.Error("issued challenge is not in the ledger")
	}

	random := issue(t, srv, "")
	if _, ok := srv.shapes.Get(random.Shape); !ok {
		t.Errorf("random challenge has unknown shape %q", random.Shape)
	}

	t.Run("localized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/challenge?shape=heart", nil)
		req.Header.Set("Accept-Language", "de")
		rw := httptest.NewRecorder()
		srv.ServeHTTP(rw, req)

		var resp ChallengeResponse
		if err := json.NewDecoder(rw.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}

		if resp.Title != "Herz" {
			t.Errorf("wanted German title, got %q", resp.Title)
		}
	})

	t.Run("unknown shape", func(t *testing.T) {
		rw := httptest.NewRecorder()
		srv.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/api/challenge?shape=spiral", nil))

		if rw.Code != http.StatusBadRequest {
			t.Errorf("wanted 400, got %d", rw.Code)
		}
	})

	if got := do(t, srv, http.MethodPost, "/api/challenge").Code; got != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/challenge: wanted 405, got %d", got)
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	result := httptest.NewRecorder()
	h.ServeHTTP(result, httptest.NewRequest(method, path, nil))
	return result
}

func TestVerifyFlow(t *testing.T) {
	srv := spawnServer(t, Options{})
	tmpl, _ := srv.shapes.Get("leaf")
	chall := issue(t, srv, "?shape=leaf")

	req := VerifyRequest{
		ChallengeID: chall.ID,
		Path:        pixelTrace(tmpl, 300),
		Canvas:      &Canvas{Width: 300, Height: 300},
	}

	resp, verdict := postVerify(t, srv, req, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("wanted 200, got %d: %s", resp.Code, resp.Body.String())
	}

	if !verdict.Success || verdict.Reason != verify.ReasonPass {
		t.Fatalf("wanted a pass, got %s %v", verdict.Reason, verdict.Signals)
	}

	if verdict.Token == "" {
		t.Fatal("passing verdict has no token")
	}

	var passCookie *http.Cookie
	for _, c := range resp.Result().Cookies() {
		if c.Name == tracecaptcha.CookieName {
			passCookie = c
		}
	}

	if passCookie == nil || passCookie.Value != verdict.Token {
		t.Fatal("pass cookie not set")
	}

	checkReq := httptest.NewRequest(http.MethodGet, "/api/check", nil)
	checkReq.AddCookie(passCookie)
	checkResp := httptest.NewRecorder()
	srv.ServeHTTP(checkResp, checkReq)

	if checkResp.Code != http.StatusOK {
		t.Errorf("pass cookie rejected: %d %s", checkResp.Code, checkResp.Body.String())
	}

	// the same trace again is a replay
	req.Path = pixelTrace(tmpl, 300)
	resp, verdict = postVerify(t, srv, req, "fr")
	if resp.Code != http.StatusOK {
		t.Fatalf("wanted 200, got %d", resp.Code)
	}

	if verdict.Success || verdict.Reason != verify.ReasonInvalidChallenge {
		t.Errorf("replay: wanted invalid_challenge, got %s", verdict.Reason)
	}

	if verdict.Message != "Défi invalide ou expiré" {
		t.Errorf("wanted a French message, got %q", verdict.Message)
	}

	if verdict.Token != "" {
		t.Error("failed verdict carries a token")
	}
}

func TestVerifyExplicitShape(t *testing.T) {
	srv := spawnServer(t, Options{})
	tmpl, _ := srv.shapes.Get("diamond")
	chall := issue(t, srv, "?shape=diamond")

	_, verdict := postVerify(t, srv, VerifyRequest{
		ChallengeID: chall.ID,
		Shape:       "heart",
		Path:        pixelTrace(tmpl, 1),
	}, "")

	if verdict.Reason != verify.ReasonInvalidChallenge {
		t.Errorf("challenge for another shape: wanted invalid_challenge, got %s", verdict.Reason)
	}

	_, verdict = postVerify(t, srv, VerifyRequest{
		ChallengeID: chall.ID,
		Shape:       "diamond",
		Path:        pixelTrace(tmpl, 1),
	}, "")

	if !verdict.Success {
		t.Errorf("wanted a pass, got %s %v", verdict.Reason, verdict.Signals)
	}
}

func TestVerifyRejects(t *testing.T) {
	srv := spawnServer(t, Options{})
	tmpl, _ := srv.shapes.Get("heart")

	t.Run("unknown challenge", func(t *testing.T) {
		_, verdict := postVerify(t, srv, VerifyRequest{ChallengeID: "nope", Path: pixelTrace(tmpl, 1)}, "")
		if verdict.Reason != verify.ReasonInvalidChallenge {
			t.Errorf("wanted invalid_challenge, got %s", verdict.Reason)
		}
	})

	t.Run("short stroke for unknown challenge", func(t *testing.T) {
		_, verdict := postVerify(t, srv, VerifyRequest{ChallengeID: "nope", Path: pixelTrace(tmpl, 1)[:4]}, "")
		if verdict.Reason != verify.ReasonTooFewPoints {
			t.Errorf("wanted too_few_points, got %s", verdict.Reason)
		}
	})

	t.Run("backwards timestamps for unknown challenge", func(t *testing.T) {
		path := pixelTrace(tmpl, 1)
		path[5] = geometry.TimedPt(path[5].X, path[5].Y, -1)

		_, verdict := postVerify(t, srv, VerifyRequest{ChallengeID: "nope", Path: path}, "")
		if verdict.Reason != verify.ReasonInvalidInput {
			t.Errorf("wanted invalid_input, got %s", verdict.Reason)
		}
	})

	t.Run("too short", func(t *testing.T) {
		chall := issue(t, srv, "?shape=heart")
		_, verdict := postVerify(t, srv, VerifyRequest{ChallengeID: chall.ID, Path: pixelTrace(tmpl, 1)[:4]}, "")
		if verdict.Reason != verify.ReasonTooFewPoints {
			t.Errorf("wanted too_few_points, got %s", verdict.Reason)
		}

		if !srv.Ledger().IsValid(t.Context(), chall.ID) {
			t.Error("short stroke consumed the challenge")
		}
	})

	t.Run("too many points", func(t *testing.T) {
		chall := issue(t, srv, "?shape=heart")
		path := make(geometry.Stroke, maxStrokePoints+1)
		for i := range path {
			path[i] = geometry.Pt(float64(i), 0)
		}

		_, verdict := postVerify(t, srv, VerifyRequest{ChallengeID: chall.ID, Path: path}, "")
		if verdict.Reason != verify.ReasonInvalidInput {
			t.Errorf("wanted invalid_input, got %s", verdict.Reason)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/verify", bytes.NewBufferString("{"))
		resp := httptest.NewRecorder()
		srv.ServeHTTP(resp, req)

		if resp.Code != http.StatusBadRequest {
			t.Errorf("wanted 400, got %d", resp.Code)
		}
	})

	t.Run("zero canvas", func(t *testing.T) {
		resp, _ := postVerify(t, srv, VerifyRequest{ChallengeID: "x", Path: pixelTrace(tmpl, 1), Canvas: &Canvas{}}, "")
		if resp.Code != http.StatusBadRequest {
			t.Errorf("wanted 400, got %d", resp.Code)
		}
	})
}

func TestExpiredChallenge(t *testing.T) {
	clock := challengetest.NewClock()
	srv := spawnServer(t, Options{Clock: clock})
	tmpl, _ := srv.shapes.Get("triangle")
	chall := issue(t, srv, "?shape=triangle")

	clock.Advance(srv.Ledger().TimeToLive())

	_, verdict := postVerify(t, srv, VerifyRequest{ChallengeID: chall.ID, Shape: "triangle", Path: pixelTrace(tmpl, 1)}, "")
	if verdict.Reason != verify.ReasonInvalidChallenge {
		t.Errorf("wanted invalid_challenge, got %s", verdict.Reason)
	}
}

func TestCheckPass(t *testing.T) {
	for _, tt := range []struct {
		name string
		opts Options
	}{
		{"ed25519", Options{}},
		{"hs512", Options{HS512Secret: []byte("hunter2hunter2hunter2")}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := spawnServer(t, tt.opts)

			if got := do(t, srv, http.MethodGet, "/api/check").Code; got != http.StatusUnauthorized {
				t.Errorf("no cookie: wanted 401, got %d", got)
			}

			token, err := srv.signJWT(map[string]any{"shape": "heart"})
			if err != nil {
				t.Fatal(err)
			}

			claims, err := srv.parseJWT(token)
			if err != nil {
				t.Fatal(err)
			}

			if claims["shape"] != "heart" {
				t.Errorf("wrong shape claim %v", claims["shape"])
			}

			other := spawnServer(t, Options{})
			if _, err := other.parseJWT(token); err == nil {
				t.Error("token from another key was accepted")
			}

			req := httptest.NewRequest(http.MethodGet, "/api/check", nil)
			req.AddCookie(&http.Cookie{Name: tracecaptcha.CookieName, Value: "garbage"})
			resp := httptest.NewRecorder()
			srv.ServeHTTP(resp, req)

			if resp.Code != http.StatusUnauthorized {
				t.Errorf("garbage cookie: wanted 401, got %d", resp.Code)
			}

			cookies := resp.Result().Cookies()
			if len(cookies) != 1 || cookies[0].MaxAge != -1 {
				t.Error("garbage cookie was not cleared")
			}
		})
	}
}

func TestShapes(t *testing.T) {
	srv := spawnServer(t, Options{})

	resp := do(t, srv, http.MethodGet, "/api/shapes")
	var list []ShapeInfo
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}

	if len(list) != 6 {
		t.Errorf("wanted 6 shapes, got %d", len(list))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/shapes/heart", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	gz := httptest.NewRecorder()
	srv.ServeHTTP(gz, req)

	if gz.Header().Get("Content-Encoding") != "gzip" {
		t.Fatal("outline was not compressed")
	}

	zr, err := gzip.NewReader(gz.Body)
	if err != nil {
		t.Fatal(err)
	}

	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}

	tmpl, err := shape.Parse(body)
	if err != nil {
		t.Fatal(err)
	}

	want, _ := srv.shapes.Get("heart")
	if tmpl.Hash() != want.Hash() {
		t.Error("served outline differs from the loaded template")
	}

	if got := do(t, srv, http.MethodGet, "/api/shapes/spiral").Code; got != http.StatusNotFound {
		t.Errorf("unknown shape: wanted 404, got %d", got)
	}
}

func TestBasePrefix(t *testing.T) {
	srv := spawnServer(t, Options{BasePrefix: "/captcha"})
	t.Cleanup(func() { tracecaptcha.BasePrefix = "" })

	resp := do(t, srv, http.MethodGet, "/captcha/api/challenge?shape=heart")
	if resp.Code != http.StatusOK {
		t.Fatalf("wanted 200, got %d", resp.Code)
	}

	var chall ChallengeResponse
	if err := json.NewDecoder(resp.Body).Decode(&chall); err != nil {
		t.Fatal(err)
	}

	if chall.Outline != "/captcha/api/shapes/heart" {
		t.Errorf("outline url ignores the base prefix: %q", chall.Outline)
	}

	if got := do(t, srv, http.MethodGet, "/api/challenge").Code; got != http.StatusNotFound {
		t.Errorf("unprefixed route: wanted 404, got %d", got)
	}
}

func TestNewRequiresPolicyAndShapes(t *testing.T) {
	if _, err := New(Options{}); err != ErrNoPolicy {
		t.Errorf("wanted ErrNoPolicy, got %v", err)
	}

	if _, err := New(Options{Policy: loadPolicies(t, "")}); err != ErrNoShapes {
		t.Errorf("wanted ErrNoShapes, got %v", err)
	}
}
