package login

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// State of a login session
type State string

const (
	StateForm           State = "form"
	StateCaptchaPending State = "captcha_pending"
	StateResolved       State = "resolved"
	StateFailed         State = "failed"
)

// ErrSessionNotFound is returned for unknown or expired session ids
var ErrSessionNotFound = errors.New("login session not found or expired")

var (
	uidRegex      = regexp.MustCompile(`\d+`)
	userLinkRegex = regexp.MustCompile(`userdetails\.php\?id=(\d+)`)
)

// Challenge is what the operator needs to continue a login
type Challenge struct {
	SessionID    string `json:"session_id"`
	State        State  `json:"state"`
	CaptchaImage string `json:"captcha_image"` // data URI, empty when the site shows none
	HasCaptcha   bool   `json:"has_captcha"`
}

// Result is the outcome of a submit
// SiteURL, Cookie and UID are set only when State is resolved.
type Result struct {
	State     State      `json:"state"`
	Message   string     `json:"message"`
	SiteURL   string     `json:"-"`
	Cookie    string     `json:"-"`
	UID       string     `json:"uid,omitempty"`
	Challenge *Challenge `json:"challenge,omitempty"`
}

// Credentials submitted with a captcha answer
type Credentials struct {
	Username    string
	Password    string
	Captcha     string
	TwoStepCode string
}

type session struct {
	mu      sync.Mutex
	id      string
	siteURL *url.URL
	client  *http.Client
	state   State
	captcha string
	hidden  url.Values
	retried bool
}

// Manager runs site login flows keyed by session id
type Manager struct {
	sessions  *gocache.Cache
	userAgent string
	timeout   time.Duration
	logger    *logrus.Logger
}

// NewManager creates a login manager; sessions expire after ttl
func NewManager(userAgent string, timeout, ttl time.Duration, logger *logrus.Logger) *Manager {
	return &Manager{
		sessions:  gocache.New(ttl, 2*ttl),
		userAgent: userAgent,
		timeout:   timeout,
		logger:    logger,
	}
}

// Init opens the login page and fetches the captcha
func (m *Manager) Init(ctx context.Context, siteURL string) (*Challenge, error) {
	base, err := url.Parse(strings.TrimRight(siteURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid site URL %q", siteURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	s := &session{
		id:      uuid.NewString(),
		siteURL: base,
		client: &http.Client{
			Timeout: m.timeout,
			Jar:     jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		state: StateForm,
	}

	if err := m.loadForm(ctx, s); err != nil {
		return nil, err
	}
	m.sessions.SetDefault(s.id, s)

	m.logger.WithFields(logrus.Fields{
		"session": s.id,
		"site":    base.Host,
		"captcha": s.captcha != "",
	}).Info("Site login started")

	return s.challenge(), nil
}

// RefreshCaptcha reloads the login form for an existing session
func (m *Manager) RefreshCaptcha(ctx context.Context, sessionID string) (*Challenge, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := m.loadForm(ctx, s); err != nil {
		return nil, err
	}
	m.sessions.SetDefault(s.id, s)
	return s.challenge(), nil
}

// Submit performs the challenge-response login
// A rejected attempt re-issues a captcha once; the second rejection fails the session.
func (m *Manager) Submit(ctx context.Context, sessionID string, creds Credentials) (*Result, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCaptchaPending {
		return nil, fmt.Errorf("login session is %s", s.state)
	}

	cookie, uid, message, err := m.attempt(ctx, s, creds)
	if err != nil {
		m.finish(s, StateFailed)
		return nil, err
	}

	logger := m.logger.WithFields(logrus.Fields{
		"session":  s.id,
		"username": creds.Username,
	})

	if cookie != "" {
		m.finish(s, StateResolved)
		logger.WithField("uid", uid).Info("Site login succeeded")
		return &Result{
			State:   StateResolved,
			Message: "login succeeded",
			SiteURL: strings.TrimRight(s.siteURL.String(), "/"),
			Cookie:  cookie,
			UID:     uid,
		}, nil
	}

	if s.retried {
		m.finish(s, StateFailed)
		logger.WithField("reason", message).Warn("Site login failed")
		return &Result{State: StateFailed, Message: message}, nil
	}

	s.retried = true
	if err := m.loadForm(ctx, s); err != nil {
		m.finish(s, StateFailed)
		return nil, err
	}
	m.sessions.SetDefault(s.id, s)
	logger.WithField("reason", message).Info("Site login rejected, captcha re-issued")
	return &Result{State: StateCaptchaPending, Message: message, Challenge: s.challenge()}, nil
}

func (m *Manager) get(sessionID string) (*session, error) {
	v, ok := m.sessions.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return v.(*session), nil
}

func (m *Manager) finish(s *session, state State) {
	s.state = state
	m.sessions.Delete(s.id)
}

func (s *session) challenge() *Challenge {
	return &Challenge{
		SessionID:    s.id,
		State:        s.state,
		CaptchaImage: s.captcha,
		HasCaptcha:   s.captcha != "",
	}
}

func (s *session) resolve(path string) string {
	return s.siteURL.ResolveReference(&url.URL{Path: path}).String()
}

func (m *Manager) newRequest(ctx context.Context, s *session, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if m.userAgent != "" {
		req.Header.Set("User-Agent", m.userAgent)
	}
	req.Header.Set("Referer", s.resolve("login.php"))
	return req, nil
}

// loadForm reads the hidden fields and captcha, leaving the session captcha-pending
func (m *Manager) loadForm(ctx context.Context, s *session) error {
	req, err := m.newRequest(ctx, s, http.MethodGet, s.resolve("login.php"), nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse login page: %w", err)
	}

	hidden := url.Values{}
	doc.Find(`form[action="takelogin.php"] input[type="hidden"]`).Each(func(_ int, input *goquery.Selection) {
		if name := input.AttrOr("name", ""); name != "" {
			hidden.Set(name, input.AttrOr("value", ""))
		}
	})

	img := doc.Find(`img[alt="CAPTCHA"]`).First()
	if img.Length() == 0 {
		img = doc.Find(`img[src*="image.php"]`).First()
	}
	captcha := ""
	if src := img.AttrOr("src", ""); src != "" {
		captcha, err = m.fetchCaptcha(ctx, s, src)
		if err != nil {
			return err
		}
	}

	s.hidden = hidden
	s.captcha = captcha
	s.state = StateCaptchaPending
	return nil
}

func (m *Manager) fetchCaptcha(ctx context.Context, s *session, src string) (string, error) {
	ref, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("invalid captcha URL: %w", err)
	}
	req, err := m.newRequest(ctx, s, http.MethodGet, s.siteURL.ResolveReference(ref).String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch captcha: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("captcha returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read captcha: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

type challengeResponse struct {
	Ret  int    `json:"ret"`
	Msg  string `json:"msg"`
	Data struct {
		Challenge string `json:"challenge"`
		Secret    string `json:"secret"`
	} `json:"data"`
}

// attempt returns a cookie on success or a rejection message
func (m *Manager) attempt(ctx context.Context, s *session, creds Credentials) (cookie, uid, message string, err error) {
	payload, _ := json.Marshal(map[string]string{"username": creds.Username})
	req, err := m.newRequest(ctx, s, http.MethodPost, s.resolve("api/challenge"), bytes.NewReader(payload))
	if err != nil {
		return "", "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", "", fmt.Errorf("challenge request failed: %w", err)
	}
	var ch challengeResponse
	err = json.NewDecoder(resp.Body).Decode(&ch)
	resp.Body.Close()
	if err != nil {
		return "", "", "", fmt.Errorf("failed to decode challenge: %w", err)
	}
	if ch.Ret != 0 {
		if ch.Msg == "" {
			ch.Msg = "challenge refused"
		}
		return "", "", ch.Msg, nil
	}

	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("imagestring", creds.Captcha)
	form.Set("imagehash", s.hidden.Get("imagehash"))
	form.Set("secret", s.hidden.Get("secret"))
	form.Set("response", ChallengeResponse(creds.Password, ch.Data.Secret, ch.Data.Challenge))
	if creds.TwoStepCode != "" {
		form.Set("two_step_code", creds.TwoStepCode)
	}

	req, err = m.newRequest(ctx, s, http.MethodPost, s.resolve("takelogin.php"), strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err = s.client.Do(req)
	if err != nil {
		return "", "", "", fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusMovedPermanently {
		location := resp.Header.Get("Location")
		if location == "" || location == "/" || strings.Contains(location, "index") || strings.Contains(location, "my") {
			cookies := s.client.Jar.Cookies(s.siteURL)
			uid := uidFromCookies(cookies)
			if uid == "" {
				uid = m.uidFromIndex(ctx, s)
			}
			return joinCookies(cookies), uid, "", nil
		}
	}
	return "", "", rejection(resp), nil
}

// ChallengeResponse computes hmac_sha256(challenge, sha256(secret + sha256(password)))
func ChallengeResponse(password, secret, challenge string) string {
	clientHash := sha256Hex(password)
	serverHash := sha256Hex(secret + clientHash)
	mac := hmac.New(sha256.New, []byte(challenge))
	mac.Write([]byte(serverHash))
	return hex.EncodeToString(mac.Sum(nil))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func rejection(resp *http.Response) string {
	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("login failed (HTTP %d)", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "login failed"
	}
	if text := strings.TrimSpace(doc.Find("td.text").First().Text()); text != "" {
		return text
	}
	if text := strings.TrimSpace(doc.Find("h2").First().Text()); text != "" {
		return text
	}
	body := doc.Text()
	switch {
	case strings.Contains(body, "验证码") || strings.Contains(body, "驗證碼"):
		return "wrong captcha"
	case strings.Contains(body, "密码") || strings.Contains(body, "密碼"):
		return "wrong username or password"
	}
	return "login failed, check username, password and captcha"
}

func uidFromCookies(cookies []*http.Cookie) string {
	for _, name := range []string{"c_secure_uid", "uid", "userid"} {
		for _, c := range cookies {
			if c.Name != name {
				continue
			}
			value := c.Value
			if name == "c_secure_uid" {
				if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
					value = string(decoded)
				}
			}
			if m := uidRegex.FindString(value); m != "" {
				return m
			}
		}
	}
	return ""
}

func (m *Manager) uidFromIndex(ctx context.Context, s *session) string {
	req, err := m.newRequest(ctx, s, http.MethodGet, s.resolve("index.php"), nil)
	if err != nil {
		return ""
	}
	resp, err := s.client.Do(req)
	if err != nil {
		m.logger.WithError(err).Debug("Failed to read index page for uid")
		return ""
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	if match := userLinkRegex.FindSubmatch(body); match != nil {
		return string(match[1])
	}
	return ""
}

func joinCookies(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
