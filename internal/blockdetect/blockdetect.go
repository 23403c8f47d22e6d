package blockdetect

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/review-scraper/internal/metrics"
	"github.com/maltedev/review-scraper/internal/scrapeerr"
)

const (
	CheckForm   = "form_marker"
	CheckPhrase = "denial_phrase"
	CheckSignIn = "signin_redirect"
)

var DefaultFormSelectors = []string{
	`form[action="/errors/validateCaptcha"]`,
	`form[action*="validateCaptcha"]`,
}

var DefaultDenialPhrases = []string{
	"To discuss automated access to Amazon data please contact",
	"Sorry, we just need to make sure you're not a robot",
	"Enter the characters you see below",
	"Type the characters you see in this image",
	"Why have I been blocked?",
	"Robot Check",
	"Bot Check",
}

var DefaultSignInPaths = []string{
	"/ap/signin",
	"/signin",
}

// Page is the rendered state of a navigation.
type Page struct {
	URL          string
	RequestedURL string
	Title        string
	Body         string
}

type Verdict struct {
	Blocked bool
	Check   string
	Reason  string
}

// Err converts a positive verdict into a Blocked error, nil otherwise.
func (v Verdict) Err() error {
	if !v.Blocked {
		return nil
	}
	return scrapeerr.New(scrapeerr.KindBlocked, v.Reason)
}

// Detector recognises anti-bot denials in otherwise successful pages.
type Detector struct {
	FormSelectors []string
	DenialPhrases []string
	SignInPaths   []string
}

func New() *Detector {
	return &Detector{
		FormSelectors: DefaultFormSelectors,
		DenialPhrases: DefaultDenialPhrases,
		SignInPaths:   DefaultSignInPaths,
	}
}

// Inspect checks, in order, for a captcha form, a denial phrase in the
// body or title, and a redirect onto a sign-in path.
func (d *Detector) Inspect(p Page) Verdict {
	if v := d.checkForm(p.Body); v.Blocked {
		return d.record(v)
	}
	if v := d.checkPhrases(p); v.Blocked {
		return d.record(v)
	}
	if v := d.checkSignIn(p); v.Blocked {
		return d.record(v)
	}
	return Verdict{}
}

// Match adapts the detector to a classifier matcher.
func (d *Detector) Match(c scrapeerr.Context) (string, bool) {
	v := d.Inspect(Page{URL: c.URL, Body: c.Body})
	return v.Reason, v.Blocked
}

func (d *Detector) checkForm(body string) Verdict {
	if body == "" || len(d.FormSelectors) == 0 {
		return Verdict{}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return Verdict{}
	}

	for _, sel := range d.FormSelectors {
		if doc.Find(sel).Length() > 0 {
			return Verdict{Blocked: true, Check: CheckForm, Reason: fmt.Sprintf("captcha form matched %s", sel)}
		}
	}
	return Verdict{}
}

func (d *Detector) checkPhrases(p Page) Verdict {
	body := strings.ToLower(p.Body)
	title := strings.ToLower(p.Title)

	for _, phrase := range d.DenialPhrases {
		needle := strings.ToLower(phrase)
		if strings.Contains(body, needle) || strings.Contains(title, needle) {
			return Verdict{Blocked: true, Check: CheckPhrase, Reason: fmt.Sprintf("denial phrase %q", phrase)}
		}
	}
	return Verdict{}
}

func (d *Detector) checkSignIn(p Page) Verdict {
	if !d.isSignIn(p.URL) {
		return Verdict{}
	}
	if p.RequestedURL != "" && d.isSignIn(p.RequestedURL) {
		return Verdict{}
	}
	return Verdict{Blocked: true, Check: CheckSignIn, Reason: fmt.Sprintf("redirected to sign-in page %s", p.URL)}
}

func (d *Detector) isSignIn(raw string) bool {
	if raw == "" {
		return false
	}

	path := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.ToLower(path)

	for _, p := range d.SignInPaths {
		if strings.HasPrefix(path, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (d *Detector) record(v Verdict) Verdict {
	metrics.BlocksDetected.WithLabelValues(v.Check).Inc()
	return v
}
