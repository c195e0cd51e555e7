package coding

import (
	"strconv"
	"strings"

	"github.com/frankli0324/go-http1/internal/errs"
)

// Coding is one content coding applied to a message payload.
type Coding int

const (
	// Auto is only valid as the configured response coding: the filter
	// negotiates the strongest coding the peer accepts, Identity when
	// nothing matches. It is the zero value so an empty configuration
	// negotiates.
	Auto Coding = iota
	Identity
	Gzip
	Deflate
	Brotli
)

func (c Coding) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case Deflate:
		return "deflate"
	case Brotli:
		return "br"
	case Auto:
		return "auto"
	}
	return "identity"
}

// Parse resolves a Content-Encoding header value. Exactly one coding is
// honored; compound codings ("br, gzip") and unknown tokens are rejected.
func Parse(value string) (Coding, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Identity, nil
	}
	if strings.ContainsRune(value, ',') {
		return Identity, errs.ErrUnsupportedEncoding
	}
	switch {
	case strings.EqualFold(value, "identity"):
		return Identity, nil
	case strings.EqualFold(value, "gzip"), strings.EqualFold(value, "x-gzip"):
		return Gzip, nil
	case strings.EqualFold(value, "deflate"):
		return Deflate, nil
	case strings.EqualFold(value, "br"):
		return Brotli, nil
	}
	return Identity, errs.ErrUnsupportedEncoding
}

// Negotiate picks the response coding from an Accept-Encoding header
// value: the acceptable coding with the highest quality wins, stronger
// codings break ties (br over gzip over deflate). An empty or fully
// declined header yields Identity.
func Negotiate(accept string) Coding {
	best, bestQ := Identity, 0.0
	for _, part := range strings.Split(accept, ",") {
		token, q := acceptToken(part)
		if q <= 0 {
			continue
		}
		var c Coding
		switch {
		case strings.EqualFold(token, "br"):
			c = Brotli
		case strings.EqualFold(token, "gzip"), strings.EqualFold(token, "x-gzip"):
			c = Gzip
		case strings.EqualFold(token, "deflate"):
			c = Deflate
		case token == "*":
			c = Gzip
		default:
			continue
		}
		if q > bestQ || (q == bestQ && strength(c) > strength(best)) {
			best, bestQ = c, q
		}
	}
	return best
}

func strength(c Coding) int {
	switch c {
	case Brotli:
		return 3
	case Gzip:
		return 2
	case Deflate:
		return 1
	}
	return 0
}

func acceptToken(part string) (token string, q float64) {
	token = strings.TrimSpace(part)
	q = 1.0
	if i := strings.IndexByte(token, ';'); i >= 0 {
		params := token[i+1:]
		token = strings.TrimSpace(token[:i])
		for _, p := range strings.Split(params, ";") {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if ok && strings.EqualFold(strings.TrimSpace(k), "q") {
				if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
					q = f
				}
			}
		}
	}
	return token, q
}
