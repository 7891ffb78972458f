package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/openreliefdata/datahub/pkg/sources"
)

// Request identifies one logical fetch: a source, an endpoint path, and an
// ordered parameter list. BypassCache forces a live fetch.
type Request struct {
	SourceID     string
	EndpointPath string
	Params       []sources.Param
	BypassCache  bool
}

// CacheKey derives the deterministic cache key for this request. Parameter
// order is part of the key material.
func (r Request) CacheKey() string {
	var b strings.Builder
	b.WriteString(r.SourceID)
	b.WriteByte('\n')
	b.WriteString(r.EndpointPath)
	for _, p := range r.Params {
		b.WriteByte('\n')
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// URL resolves the request against a source's base address, preserving the
// declared parameter order in the query string.
func (r Request) URL(baseAddress string) (string, error) {
	u, err := url.Parse(baseAddress)
	if err != nil {
		return "", fmt.Errorf("invalid base address %q: %w", baseAddress, err)
	}
	joined, err := url.JoinPath(u.String(), r.EndpointPath)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint path %q: %w", r.EndpointPath, err)
	}
	if len(r.Params) == 0 {
		return joined, nil
	}
	pairs := make([]string, 0, len(r.Params))
	for _, p := range r.Params {
		pairs = append(pairs, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	return joined + "?" + strings.Join(pairs, "&"), nil
}
