package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestNew_DefaultCategory(t *testing.T) {
	tests := []struct {
		code      ErrorCode
		category  ErrorCategory
		retryable bool
	}{
		{ErrCodeTimeout, CategoryTransient, true},
		{ErrCodeUnavailable, CategoryTransient, true},
		{ErrCodeAgentOffline, CategoryTransient, true},
		{ErrCodeNotFound, CategoryPermanent, false},
		{ErrCodePrecondition, CategoryPermanent, false},
		{ErrCodeDecode, CategoryPermanent, false},
		{ErrCodePanic, CategoryInternal, false},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "msg")
			if err.Category() != tt.category {
				t.Errorf("Category() = %v, want %v", err.Category(), tt.category)
			}
			if err.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", err.Retryable(), tt.retryable)
			}
		})
	}
}

func TestError_MessageWithCause(t *testing.T) {
	err := New(ErrCodeUnavailable, "connect nats", WithCause(fmt.Errorf("refused")))
	if err.Error() != "connect nats: refused" {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Unwrap() == nil {
		t.Error("expected cause")
	}
}

func TestConstructors(t *testing.T) {
	nf := NotFound("cto")
	if nf.Code() != ErrCodeNotFound || nf.AgentID() != "cto" {
		t.Errorf("NotFound = %v / %s", nf.Code(), nf.AgentID())
	}
	off := AgentOffline("w1")
	if off.Code() != ErrCodeAgentOffline || !off.Retryable() {
		t.Errorf("AgentOffline = %v retryable=%v", off.Code(), off.Retryable())
	}
	if Precondition("x").Code() != ErrCodePrecondition {
		t.Error("Precondition code")
	}
	if FromCode(ErrCodeTimeout).Error() != "request timed out" {
		t.Errorf("FromCode(TIMEOUT) = %q", FromCode(ErrCodeTimeout).Error())
	}
	if FromCode(ErrCodeDecode).Error() != "malformed message" {
		t.Errorf("FromCode message = %q", FromCode(ErrCodeDecode).Error())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}

	inner := NotFound("ghost")
	outer := Wrap(inner, "send command")
	if outer.Code() != ErrCodeNotFound {
		t.Errorf("wrapped code = %v", outer.Code())
	}
	if outer.AgentID() != "ghost" {
		t.Errorf("wrapped agent = %q", outer.AgentID())
	}

	if Wrap(context.DeadlineExceeded, "wait").Code() != ErrCodeTimeout {
		t.Error("deadline should map to TIMEOUT")
	}
	if Wrap(context.Canceled, "wait").Code() != ErrCodeCanceled {
		t.Error("canceled should map to CANCELED")
	}
	if Wrap(stderrors.New("boom"), "x").Code() != ErrCodeInternal {
		t.Error("foreign error should map to INTERNAL")
	}
}

func TestIs_WalksChain(t *testing.T) {
	base := Precondition("not running")
	chained := fmt.Errorf("send: %w", base)

	if !Is(chained, ErrCodePrecondition) {
		t.Error("Is should find code through fmt wrapping")
	}
	if Is(chained, ErrCodeTimeout) {
		t.Error("Is matched wrong code")
	}
	if Code(chained) != ErrCodePrecondition {
		t.Errorf("Code = %v", Code(chained))
	}
	if Code(stderrors.New("plain")) != "" {
		t.Error("Code of foreign error should be empty")
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Error("foreign error should not be retryable")
	}
}

func TestRecoverPanic(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("nil panic should give nil")
	}

	tests := []struct {
		value interface{}
		msg   string
	}{
		{"handler exploded", "handler exploded"},
		{fmt.Errorf("wrapped"), "wrapped"},
		{42, "42"},
	}
	for _, tt := range tests {
		err := RecoverPanic(tt.value)
		if err.Code() != ErrCodePanic {
			t.Errorf("code = %v", err.Code())
		}
		if err.Error() != tt.msg {
			t.Errorf("message = %q, want %q", err.Error(), tt.msg)
		}
		if err.Metadata()["panic_value"] == "" {
			t.Error("expected panic_value metadata")
		}
	}
}

func TestError_JSONRoundTrip(t *testing.T) {
	orig := New(ErrCodeAgentOffline, "gone", WithAgentID("w2"), WithMetadata("sweep", "offline"), WithCause(fmt.Errorf("silence")))

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Error
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.Code() != orig.Code() || decoded.AgentID() != "w2" {
		t.Errorf("decoded = %v / %s", decoded.Code(), decoded.AgentID())
	}
	if decoded.Metadata()["sweep"] != "offline" {
		t.Error("metadata lost")
	}
	if decoded.Error() != "gone: silence" {
		t.Errorf("decoded message = %q", decoded.Error())
	}
	again, err := json.Marshal(&decoded)
	if err != nil {
		t.Fatalf("Marshal decoded: %v", err)
	}
	var a, b map[string]interface{}
	json.Unmarshal(data, &a)
	json.Unmarshal(again, &b)
	if a["timestamp"] == nil || a["timestamp"] != b["timestamp"] {
		t.Errorf("timestamp %v became %v", a["timestamp"], b["timestamp"])
	}
}
