package blockdetect

import (
	"testing"

	"github.com/maltedev/review-scraper/internal/scrapeerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reviewPage = `<html><head><title>Amazon.com: Customer reviews</title></head>
<body><div data-hook="review"><span data-hook="review-body">Great fit</span></div></body></html>`

const captchaPage = `<html><head><title>Amazon.com</title></head>
<body><form method="get" action="/errors/validateCaptcha"><input name="field-keywords"></form></body></html>`

func TestInspect(t *testing.T) {
	d := New()

	tests := []struct {
		name    string
		page    Page
		blocked bool
		check   string
	}{
		{
			name: "Normal review page",
			page: Page{URL: "https://www.amazon.com/product-reviews/B001", Title: "Amazon.com: Customer reviews", Body: reviewPage},
		},
		{
			name:    "Captcha form",
			page:    Page{URL: "https://www.amazon.com/product-reviews/B001", Body: captchaPage},
			blocked: true,
			check:   CheckForm,
		},
		{
			name:    "Denial phrase in body",
			page:    Page{Body: "<p>To discuss automated access to Amazon data please contact api-services-support@amazon.com</p>"},
			blocked: true,
			check:   CheckPhrase,
		},
		{
			name:    "Denial phrase in title",
			page:    Page{Title: "Robot Check", Body: "<p>hello</p>"},
			blocked: true,
			check:   CheckPhrase,
		},
		{
			name:    "Redirected to sign-in",
			page:    Page{URL: "https://www.amazon.com/ap/signin?openid.return_to=x", RequestedURL: "https://www.amazon.com/product-reviews/B001", Body: "<p>Sign in</p>"},
			blocked: true,
			check:   CheckSignIn,
		},
		{
			name: "Sign-in page requested on purpose",
			page: Page{URL: "https://www.amazon.com/ap/signin", RequestedURL: "https://www.amazon.com/ap/signin", Body: "<p>Sign in</p>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := d.Inspect(tt.page)
			assert.Equal(t, tt.blocked, v.Blocked)
			assert.Equal(t, tt.check, v.Check)
		})
	}
}

func TestInspectCheckOrder(t *testing.T) {
	d := New()

	// form marker wins over phrase and sign-in checks
	v := d.Inspect(Page{
		URL:  "https://www.amazon.com/ap/signin",
		Body: `<form action="/errors/validateCaptcha"></form><p>Enter the characters you see below</p>`,
	})
	assert.Equal(t, CheckForm, v.Check)
}

func TestVerdictErr(t *testing.T) {
	assert.NoError(t, Verdict{}.Err())

	err := Verdict{Blocked: true, Check: CheckPhrase, Reason: "denial phrase"}.Err()
	require.Error(t, err)
	assert.Equal(t, scrapeerr.KindBlocked, scrapeerr.KindOf(err))
	assert.False(t, scrapeerr.IsRetryable(err))
}

func TestMatchPlugsIntoClassifier(t *testing.T) {
	d := &Detector{DenialPhrases: []string{"access denied by shield"}}
	cl := scrapeerr.Classifier{Matcher: d.Match}

	got := cl.Classify(assert.AnError, scrapeerr.Context{StatusCode: 200, Body: "<h1>Access denied by Shield</h1>"})
	assert.Equal(t, scrapeerr.KindBlocked, got.Kind)

	got = cl.Classify(assert.AnError, scrapeerr.Context{StatusCode: 503, Body: "<h1>Service Unavailable</h1>"})
	assert.Equal(t, scrapeerr.KindNetwork, got.Kind)
}
