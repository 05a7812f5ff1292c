package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"reflect"
	"testing"

	"arcfeed/cmd/internal/security/token"
)

func TestParseTokens(t *testing.T) {
	t.Parallel()

	got, err := ParseTokens([]string{"t1=u1:Alice Smith", "t2=u2"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := map[string]Principal{
		"t1": {UserID: "u1", DisplayName: "Alice Smith"},
		"t2": {UserID: "u2", DisplayName: "u2"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}

	bad := [][]string{
		{"no-equals"},
		{"=u1"},
		{"t1="},
		{"t1=u1", "t1=u2"},
	}
	for _, in := range bad {
		if _, err := ParseTokens(in); err == nil {
			t.Fatalf("expected error for %v", in)
		}
	}
}

func TestStaticAuthenticator(t *testing.T) {
	t.Parallel()

	a := NewStaticAuthenticator(token.NewHasher(nil), map[string]Principal{
		"secret": {UserID: "u1", DisplayName: "Alice"},
	})

	p, err := a.Authenticate(context.Background(), "secret")
	if err != nil || p.UserID != "u1" {
		t.Fatalf("p=%+v err=%v", p, err)
	}
	if _, err := a.Authenticate(context.Background(), "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("wrong token err=%v", err)
	}
	if _, err := a.Authenticate(context.Background(), " "); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("blank token err=%v", err)
	}
	for h := range a.byHash {
		if h == "secret" {
			t.Fatalf("clear token retained")
		}
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc", want: "abc", ok: true},
		{header: "bearer  abc ", want: "abc", ok: true},
		{header: "Basic abc", ok: false},
		{header: "Bearer", ok: false},
		{header: "", ok: false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		got, ok := BearerToken(r)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("header=%q got=%q ok=%v", tc.header, got, ok)
		}
	}
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	ctx := WithPrincipal(context.Background(), Principal{UserID: "u1"})
	p, ok := PrincipalFrom(ctx)
	if !ok || p.UserID != "u1" {
		t.Fatalf("p=%+v ok=%v", p, ok)
	}
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatalf("expected no principal")
	}
}
