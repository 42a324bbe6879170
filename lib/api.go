package lib

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/TecharoHQ/tracecaptcha"
	"github.com/TecharoHQ/tracecaptcha/internal"
	"github.com/TecharoHQ/tracecaptcha/lib/challenge"
	"github.com/TecharoHQ/tracecaptcha/lib/geometry"
	"github.com/TecharoHQ/tracecaptcha/lib/localization"
	"github.com/TecharoHQ/tracecaptcha/lib/shape"
	"github.com/TecharoHQ/tracecaptcha/lib/verify"
	"github.com/golang-jwt/jwt/v5"
)

const (
	maxRequestBody  = 1 << 20
	maxStrokePoints = 4096
)

type ChallengeResponse struct {
	ID              string    `json:"id"`
	Shape           string    `json:"shape"`
	Title           string    `json:"title"`
	Prompt          string    `json:"prompt"`
	Outline         string    `json:"outline"`
	DisplayRotation float64   `json:"display_rotation"`
	DisplayScale    float64   `json:"display_scale"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Canvas is the size of the drawing surface the stroke was captured on.
type Canvas struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type VerifyRequest struct {
	ChallengeID string          `json:"challenge_id"`
	Shape       string          `json:"shape,omitempty"`
	Path        geometry.Stroke `json:"path"`
	// Canvas, when set, means Path is in pixels and gets divided down into
	// the unit frame the templates use.
	Canvas *Canvas `json:"canvas,omitempty"`
}

type VerifyResponse struct {
	*verify.Verdict
	Token string `json:"token,omitempty"`
}

type ShapeInfo struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Outline string `json:"outline"`
}

func outlineURL(name string) string {
	return tracecaptcha.BasePrefix + tracecaptcha.APIPrefix + "shapes/" + name
}

// IssueChallenge hands out a fresh challenge. The shape query parameter
// picks a template, otherwise one is chosen at random.
func (s *Server) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(s.logger, r)
	loc := localization.GetLocalizer(r)

	var (
		tmpl *shape.Template
		err  error
	)

	if name := r.URL.Query().Get("shape"); name != "" {
		var ok bool
		tmpl, ok = s.shapes.Get(name)
		if !ok {
			s.respondWithError(w, r, challenge.NewError("issue", "unknown shape", fmt.Errorf("%w: %q", shape.ErrUnknownShape, name)))
			return
		}
	} else {
		tmpl, err = s.shapes.Random()
		if err != nil {
			lg.Error("can't pick a shape", "err", err)
			s.respondWithError(w, r, err)
			return
		}
	}

	chall, err := s.ledger.Issue(r.Context(), tmpl)
	if err != nil {
		lg.Error("can't issue challenge", "err", err)
		s.respondWithError(w, r, err)
		return
	}

	title := loc.Shape(tmpl.Name, tmpl.Title)
	lg.Debug("issued challenge", "id", chall.ID, "shape", chall.Shape)

	writeJSON(w, http.StatusOK, ChallengeResponse{
		ID:              chall.ID,
		Shape:           chall.Shape,
		Title:           title,
		Prompt:          loc.TData("trace_prompt", map[string]any{"Shape": title}),
		Outline:         outlineURL(chall.Shape),
		DisplayRotation: chall.DisplayRotation,
		DisplayScale:    chall.DisplayScale,
		ExpiresAt:       chall.ExpiresAt,
	})
}

// Verify judges a submitted stroke. Every well-formed request gets a
// verdict; passing ones also get a signed pass token and cookie.
func (s *Server) Verify(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(s.logger, r)
	loc := localization.GetLocalizer(r)

	var req VerifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		lg.Debug("can't decode verify request", "err", err)
		s.respondWithError(w, r, challenge.NewError("verify", "invalid request", fmt.Errorf("%w: body: %w", challenge.ErrInvalidFormat, err)))
		return
	}

	if req.Canvas != nil {
		if err := normalizeCanvas(req.Path, *req.Canvas); err != nil {
			s.respondWithError(w, r, challenge.NewError("verify", "invalid canvas size", err))
			return
		}
	}

	verdict, tmpl, err := s.verify(r, &req)
	if err != nil {
		lg.Error("verification failed", "err", err)
		s.respondWithError(w, r, err)
		return
	}

	verdict.Message = loc.T(string(verdict.Reason))
	resp := VerifyResponse{Verdict: verdict}

	if verdict.Success {
		token, err := s.signJWT(jwt.MapClaims{
			"challenge": req.ChallengeID,
			"shape":     tmpl.Name,
			"bot_score": verdict.BotScore,
		})
		if err != nil {
			lg.Error("can't sign pass token", "err", err)
			s.respondWithError(w, r, err)
			return
		}

		s.SetCookie(w, CookieOpts{Value: token, Host: r.Host})
		passTokensIssued.WithLabelValues(tmpl.Name).Inc()
		resp.Token = token
	}

	lg.Info("trace verified", "verdict", verdict)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) verify(r *http.Request, req *VerifyRequest) (*verify.Verdict, *shape.Template, error) {
	if len(req.Path) > maxStrokePoints {
		return verify.Rejected(verify.ReasonInvalidInput), nil, nil
	}

	if verdict := s.verifier.Precheck(req.Path); verdict != nil {
		return verdict, nil, nil
	}

	name := req.Shape
	if name == "" {
		chall, err := s.ledger.Get(r.Context(), req.ChallengeID)
		switch {
		case err == nil:
			name = chall.Shape
		case !challenge.Invalid(err):
			return nil, nil, err
		}
	}

	tmpl, ok := s.shapes.Get(name)
	if !ok {
		return verify.Rejected(verify.ReasonInvalidChallenge), nil, nil
	}

	verdict, err := s.verifier.Verify(r.Context(), req.Path, tmpl, req.ChallengeID)
	if err != nil {
		return nil, nil, err
	}

	return verdict, tmpl, nil
}

func normalizeCanvas(stroke geometry.Stroke, c Canvas) error {
	for _, v := range []float64{c.Width, c.Height} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: canvas is %gx%g", challenge.ErrInvalidFormat, c.Width, c.Height)
		}
	}

	for i := range stroke {
		stroke[i].X /= c.Width
		stroke[i].Y /= c.Height
	}

	return nil
}

// CheckPass reports whether the request carries a valid pass cookie.
func (s *Server) CheckPass(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(s.logger, r)

	ckie, err := r.Cookie(s.cookieName)
	if err != nil {
		lg.Debug("cookie not found")
		passChecks.WithLabelValues("missing").Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"pass": false})
		return
	}

	claims, err := s.parseJWT(ckie.Value)
	if err != nil {
		lg.Debug("invalid token", "err", err)
		passChecks.WithLabelValues("invalid").Inc()
		s.ClearCookie(w, CookieOpts{Host: r.Host})
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"pass": false})
		return
	}

	passChecks.WithLabelValues("pass").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"pass":  true,
		"shape": claims["shape"],
	})
}

func (s *Server) ListShapes(w http.ResponseWriter, r *http.Request) {
	loc := localization.GetLocalizer(r)

	result := make([]ShapeInfo, 0, s.shapes.Len())
	for _, name := range s.shapes.Names() {
		tmpl, _ := s.shapes.Get(name)
		result = append(result, ShapeInfo{
			Name:    name,
			Title:   loc.Shape(name, tmpl.Title),
			Outline: outlineURL(name),
		})
	}

	writeJSON(w, http.StatusOK, result)
}

// GetShape serves a template outline for the renderer.
func (s *Server) GetShape(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tmpl, ok := s.shapes.Get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown shape"})
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, tmpl)
}
