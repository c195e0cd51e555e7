package model_test

import (
	"io"
	"strings"
	"testing"

	"github.com/frankli0324/go-http1/internal/model"
)

func TestRequestDiscipline(t *testing.T) {
	cases := map[string]struct {
		head model.RequestHead
		want model.Discipline
	}{
		"NoFraming":     {model.RequestHead{ContentLength: -1}, model.DisciplineNone},
		"ZeroLength":    {model.RequestHead{ContentLength: 0}, model.DisciplineNone},
		"FixedLength":   {model.RequestHead{ContentLength: 42}, model.DisciplineLength},
		"Chunked":       {model.RequestHead{ContentLength: -1, Chunked: true}, model.DisciplineChunked},
		"ChunkedWins":   {model.RequestHead{ContentLength: 42, Chunked: true}, model.DisciplineChunked},
	}
	for name, cas := range cases {
		cas := cas
		t.Run(name, func(t *testing.T) {
			if got := cas.head.Discipline(); got != cas.want {
				t.Fatalf("discipline %v, want %v", got, cas.want)
			}
		})
	}
}

func TestTokenListContains(t *testing.T) {
	cases := map[string]struct {
		value, token string
		want         bool
	}{
		"Single":         {"close", "close", true},
		"CaseFolded":     {"Keep-Alive", "keep-alive", true},
		"InList":         {"foo, Upgrade, bar", "upgrade", true},
		"Spaced":         {" close ", "close", true},
		"Substring":      {"closed", "close", false},
		"Empty":          {"", "close", false},
		"WrongToken":     {"upgrade", "close", false},
	}
	for name, cas := range cases {
		cas := cas
		t.Run(name, func(t *testing.T) {
			if got := model.TokenListContains(cas.value, cas.token); got != cas.want {
				t.Fatalf("TokenListContains(%q, %q) = %v", cas.value, cas.token, got)
			}
		})
	}
}

func TestBodilessStatus(t *testing.T) {
	for status, want := range map[int]bool{
		100: true, 101: true, 204: true, 304: true,
		200: false, 404: false, 500: false,
	} {
		h := model.ResponseHead{Status: status}
		if h.BodilessStatus() != want {
			t.Errorf("BodilessStatus(%d) = %v", status, !want)
		}
	}
}

func TestBodySizes(t *testing.T) {
	if b := model.NoBody(); b.Kind() != model.BodyEmpty || b.Size() != 0 {
		t.Error("empty body misreports")
	}
	if b := model.StringBody("hello"); b.Kind() != model.BodyFixed || b.Size() != 5 {
		t.Error("string body misreports")
	}
	if b := model.BytesBody(nil); b.Kind() != model.BodyEmpty {
		t.Error("nil bytes should be the empty body")
	}
	if b := model.ReaderBody(strings.NewReader("x"), -1); b.Kind() != model.BodyStreaming || b.Size() != -1 {
		t.Error("unknown-length body misreports")
	}
}

func TestBodyReads(t *testing.T) {
	got, err := io.ReadAll(model.StringBody("read me"))
	if err != nil || string(got) != "read me" {
		t.Fatalf("read %q, %v", got, err)
	}
	if got, _ := io.ReadAll(model.NoBody()); len(got) != 0 {
		t.Fatalf("empty body yielded %q", got)
	}
}

func TestNewResponseDefaults(t *testing.T) {
	resp := model.NewResponse(200, model.StringBody("hi"))
	if resp.Proto != model.V11 || resp.ContentLength != 2 || resp.Header == nil {
		t.Fatalf("defaults %+v", resp.ResponseHead)
	}
}

func TestVersionString(t *testing.T) {
	if model.V11.String() != "HTTP/1.1" || model.V10.String() != "HTTP/1.0" {
		t.Fatal("version strings wrong")
	}
}
