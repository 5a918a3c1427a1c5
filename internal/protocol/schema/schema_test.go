package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/campaignd/internal/testutil/testlog"
	"github.com/danmuck/campaignd/internal/wml"
)

func uploadBody() *wml.Config {
	return wml.New().
		Set(AttrName, "Brave_Wanderer").
		Set(AttrTitle, "Brave Wanderer").
		Set(AttrVersion, "1.0.0").
		Set(AttrAuthor, "dan").
		Set(AttrPassphrase, "secret")
}

func TestValidateUploadRequiredAttributes(t *testing.T) {
	testlog.Start(t)
	if err := Validate(Upload, uploadBody(), []byte("PK")); err != nil {
		t.Fatalf("validate upload: %v", err)
	}
}

func TestValidateUnknownAttributesIgnored(t *testing.T) {
	testlog.Start(t)
	body := uploadBody().Set("icon", "units/x.png")
	if err := Validate(Upload, body, []byte("PK")); err != nil {
		t.Fatalf("validate with unknown attribute: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	body := wml.New().Set(AttrName, "x")
	err := Validate(Upload, body, []byte("PK"))
	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T %v", err, err)
	}
	if ve.Key != AttrTitle || ve.Reason != "missing required attribute" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateEmptyAttribute(t *testing.T) {
	testlog.Start(t)
	err := Validate(RequestCampaign, wml.New().Set(AttrName, "  "), nil)
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Reason != "empty attribute" {
		t.Fatalf("expected empty attribute error, got %v", err)
	}
}

func TestValidateUploadNeedsBinary(t *testing.T) {
	testlog.Start(t)
	err := Validate(Upload, uploadBody(), nil)
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Reason != "missing binary payload" {
		t.Fatalf("expected missing binary error, got %v", err)
	}
}

func TestValidateNoRulePasses(t *testing.T) {
	testlog.Start(t)
	if Known("ping") {
		t.Fatalf("ping should have no rule")
	}
	if err := Validate("ping", nil, nil); err != nil {
		t.Fatalf("expected nil for request without rule, got %v", err)
	}
	if !Known(RequestLicense) {
		t.Fatalf("request_license should be known")
	}
}
