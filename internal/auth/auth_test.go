package auth

import (
	"testing"

	"github.com/openclaw/gateway/internal/httpcodec"
)

func TestCheckBearerEmptyExpectedAllowsAll(t *testing.T) {
	req := &httpcodec.Request{}
	if !CheckBearer(req, "") {
		t.Fatal("expected empty expected token to allow all requests")
	}
}

func TestCheckBearerRejectsMissingHeader(t *testing.T) {
	req := &httpcodec.Request{}
	if CheckBearer(req, "secret") {
		t.Fatal("expected rejection with no Authorization header")
	}
}

func TestCheckBearerRejectsWrongToken(t *testing.T) {
	req := &httpcodec.Request{Headers: []httpcodec.Header{{Key: "Authorization", Val: "Bearer wrong"}}}
	if CheckBearer(req, "secret") {
		t.Fatal("expected rejection for mismatched token")
	}
}

func TestCheckBearerAcceptsMatchingToken(t *testing.T) {
	req := &httpcodec.Request{Headers: []httpcodec.Header{{Key: "authorization", Val: "Bearer secret"}}}
	if !CheckBearer(req, "secret") {
		t.Fatal("expected acceptance for matching token")
	}
}
