package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func req(t *testing.T) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/chat?id=7", nil)
	return r
}

func TestNone_AlwaysSucceeds(t *testing.T) {
	assert.True(t, None{}.Validate(req(t)))
}

func TestBasic(t *testing.T) {
	b := Basic{Username: "alice", Password: "secret"}
	r := req(t)
	r.SetBasicAuth("alice", "secret")
	assert.True(t, b.Validate(r))

	r2 := req(t)
	r2.SetBasicAuth("alice", "wrong")
	assert.False(t, b.Validate(r2))
}

func TestHeaderEquals(t *testing.T) {
	h := HeaderEquals{Header: "X-Chat-Token", Want: "tok123"}
	r := req(t)
	r.Header.Set("X-Chat-Token", "tok123")
	assert.True(t, h.Validate(r))

	r2 := req(t)
	assert.False(t, h.Validate(r2))
}

func TestBearerToken(t *testing.T) {
	bt := BearerToken{Token: "abc"}
	r := req(t)
	r.Header.Set("Authorization", "Bearer abc")
	assert.True(t, bt.Validate(r))

	r2 := req(t)
	r2.Header.Set("Authorization", "Bearer wrong")
	assert.False(t, bt.Validate(r2))

	r3 := req(t)
	assert.False(t, bt.Validate(r3))
}

func TestCookieEquals(t *testing.T) {
	c := CookieEquals{Cookie: "chat_session", Want: "sess1"}
	r := req(t)
	r.AddCookie(&http.Cookie{Name: "chat_session", Value: "sess1"})
	assert.True(t, c.Validate(r))

	r2 := req(t)
	assert.False(t, c.Validate(r2))
}

func TestOneOf_SucceedsIfAnyChildSucceeds(t *testing.T) {
	o := OneOf{Children: []Authenticator{
		BearerToken{Token: "right"},
		HeaderEquals{Header: "X-Alt", Want: "alt"},
	}}
	r := req(t)
	r.Header.Set("X-Alt", "alt")
	assert.True(t, o.Validate(r))

	r2 := req(t)
	assert.False(t, o.Validate(r2))
}

func TestAllOf_SucceedsOnlyIfEveryChildSucceeds(t *testing.T) {
	a := AllOf{Children: []Authenticator{
		BearerToken{Token: "tok"},
		HeaderEquals{Header: "X-Tenant", Want: "acme"},
	}}
	r := req(t)
	r.Header.Set("Authorization", "Bearer tok")
	r.Header.Set("X-Tenant", "acme")
	assert.True(t, a.Validate(r))

	r2 := req(t)
	r2.Header.Set("Authorization", "Bearer tok")
	assert.False(t, a.Validate(r2), "missing second header must fail all-of")
}

type fakeDoer struct {
	status int
	err    error
}

func (f fakeDoer) Do(req *http.Request) (*http.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{StatusCode: f.status, Body: http.NoBody}, nil
}

func TestRemote_SuccessOn2xx(t *testing.T) {
	rm := Remote{Child: BearerToken{}, URL: "http://auth.internal/verify", Client: fakeDoer{status: 200}}
	r := req(t)
	r.Header.Set("Authorization", "Bearer tok")
	assert.True(t, rm.Validate(r))
}

func TestRemote_FailsOn4xx(t *testing.T) {
	rm := Remote{Child: BearerToken{}, URL: "http://auth.internal/verify", Client: fakeDoer{status: 401}}
	r := req(t)
	r.Header.Set("Authorization", "Bearer tok")
	assert.False(t, rm.Validate(r))
}

func TestRemote_FailsWithoutExtractableValue(t *testing.T) {
	rm := Remote{Child: BearerToken{}, URL: "http://auth.internal/verify", Client: fakeDoer{status: 200}}
	assert.False(t, rm.Validate(req(t)))
}

func TestBuild_UnknownStrategy(t *testing.T) {
	_, err := Build(BuildConfig{Strategy: "bogus"})
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestBuild_Bearer(t *testing.T) {
	a, err := Build(BuildConfig{Strategy: "bearer", Token: "tok"})
	assert.NoError(t, err)
	r := req(t)
	r.Header.Set("Authorization", "Bearer tok")
	assert.True(t, a.Validate(r))
}
