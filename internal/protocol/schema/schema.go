package schema

import (
	"fmt"
	"strings"

	"github.com/danmuck/campaignd/internal/wml"
	"github.com/rs/zerolog/log"
)

// Request discriminators served by campaignd.
const (
	RequestLicense      = "request_license"
	RequestTerms        = "request_terms"
	RequestCampaignList = "request_campaign_list"
	RequestCampaign     = "request_campaign"
	Upload              = "upload"
	Delete              = "delete"
	ChangePassphrase    = "change_passphrase"
)

// Attribute keys used in request bodies.
const (
	AttrName          = "name"
	AttrTitle         = "title"
	AttrVersion       = "version"
	AttrAuthor        = "author"
	AttrPassphrase    = "passphrase"
	AttrNewPassphrase = "new_passphrase"
	AttrDescription   = "description"
	AttrType          = "type"
	AttrEmail         = "email"
)

// Requirement is one attribute a request body must carry.
type Requirement struct {
	Key      string
	NonEmpty bool
}

// Rule is the full requirement set for one discriminator.
type Rule struct {
	Attributes []Requirement
	Binary     bool
}

type ValidationError struct {
	Request string
	Key     string
	Reason  string
}

func (e ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("schema: request=%s: %s", e.Request, e.Reason)
	}
	return fmt.Sprintf("schema: request=%s key=%s: %s", e.Request, e.Key, e.Reason)
}

var requirements = map[string]Rule{
	RequestLicense:      {},
	RequestTerms:        {},
	RequestCampaignList: {},
	RequestCampaign: {
		Attributes: []Requirement{{AttrName, true}},
	},
	Upload: {
		Attributes: []Requirement{
			{AttrName, true},
			{AttrTitle, true},
			{AttrVersion, true},
			{AttrAuthor, true},
			{AttrPassphrase, true},
		},
		Binary: true,
	},
	Delete: {
		Attributes: []Requirement{{AttrName, true}, {AttrPassphrase, true}},
	},
	ChangePassphrase: {
		Attributes: []Requirement{
			{AttrName, true},
			{AttrPassphrase, true},
			{AttrNewPassphrase, true},
		},
	},
}

// Known reports whether request has a rule.
func Known(request string) bool {
	_, ok := requirements[request]
	return ok
}

// Validate enforces required attributes and binary presence for request.
// Requests without a rule pass; unknown attributes are ignored.
func Validate(request string, body *wml.Config, binary []byte) error {
	rule, ok := requirements[request]
	if !ok {
		log.Debug().Str("request", request).Msg("schema.Validate no rule")
		return nil
	}
	for _, req := range rule.Attributes {
		v, found := body.Get(req.Key)
		if !found {
			log.Debug().Str("request", request).Str("key", req.Key).Msg("schema.Validate missing attribute")
			return ValidationError{Request: request, Key: req.Key, Reason: "missing required attribute"}
		}
		if req.NonEmpty && strings.TrimSpace(v) == "" {
			log.Debug().Str("request", request).Str("key", req.Key).Msg("schema.Validate empty attribute")
			return ValidationError{Request: request, Key: req.Key, Reason: "empty attribute"}
		}
	}
	if rule.Binary && len(binary) == 0 {
		return ValidationError{Request: request, Reason: "missing binary payload"}
	}
	return nil
}
