package service

import (
	"strings"
	"testing"

	"cakeday/internal/domain"
	"cakeday/internal/personality"
)

func TestNormalizeMrkdwn(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"**bold** text", "*bold* text"},
		{"__italic__ text", "_italic_ text"},
		{"see [the docs](https://example.com/x) here", "see <https://example.com/x|the docs> here"},
		{"<p>hello</p> <br/> world", "hello  world"},
		{"already *fine* _copy_", "already *fine* _copy_"},
		{"  padded  ", "padded"},
	}
	for _, c := range cases {
		if got := NormalizeMrkdwn(c.in); got != c.want {
			t.Errorf("NormalizeMrkdwn(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMessageLooksValid(t *testing.T) {
	people := []domain.BirthdayPerson{
		{Record: domain.BirthdayRecord{UserID: "U1"}},
		{Record: domain.BirthdayRecord{UserID: "U2"}},
	}

	if !MessageLooksValid("Happy birthday <@U1> and <@U2>!", people) {
		t.Fatalf("valid message rejected")
	}
	if MessageLooksValid("Happy birthday <@U1>!", people) {
		t.Fatalf("message missing a mention must be invalid")
	}
	if MessageLooksValid("Happy birthday {mentions} <@U1> <@U2>!", people) {
		t.Fatalf("leaked placeholder must be invalid")
	}
}

func TestFallbackMessageInterpolation(t *testing.T) {
	voice, _ := personality.Get(personality.KeyCheerleader)
	people := []domain.BirthdayPerson{
		{Record: domain.BirthdayRecord{UserID: "U1"}},
		{Record: domain.BirthdayRecord{UserID: "U2"}},
		{Record: domain.BirthdayRecord{UserID: "U3"}},
	}

	msg := FallbackMessage(voice, people)
	for _, want := range []string{"<@U1>", "<@U2>", "<@U3>"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("fallback missing %s: %q", want, msg)
		}
	}
	if strings.Contains(msg, "{mentions}") {
		t.Fatalf("fallback leaked placeholder: %q", msg)
	}
}

func TestJoinNatural(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a and b"},
		{[]string{"a", "b", "c"}, "a, b and c"},
	}
	for _, c := range cases {
		if got := joinNatural(c.in); got != c.want {
			t.Errorf("joinNatural(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
