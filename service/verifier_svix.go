package service

import (
	"net/http"

	"github.com/pkg/errors"
	svix "github.com/svix/svix-webhooks/go"
)

// SvixVerifier checks the svix-id / svix-timestamp / svix-signature headers
// Resend attaches to every webhook delivery
type SvixVerifier struct {
	webhook *svix.Webhook
}

func NewSvixVerifier(secret string) (*SvixVerifier, error) {
	wh, err := svix.NewWebhook(secret)
	if err != nil {
		return nil, errors.Wrap(err, "invalid webhook secret")
	}
	return &SvixVerifier{webhook: wh}, nil
}

// Verify implements model.SignatureVerifier
func (v *SvixVerifier) Verify(payload []byte, headers http.Header) error {
	return v.webhook.Verify(payload, headers)
}
