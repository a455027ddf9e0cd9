package messaging

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tbourn/go-mint-node/internal/domain"
)

// Formatter renders the human-readable message included in every outcome.
// The locale tag selects number/date conventions for the printer; message
// text itself is English until translations are registered in the catalog.
type Formatter struct {
	Locale language.Tag
}

// NewFormatter parses the locale, falling back to Und on bad input.
func NewFormatter(locale string) *Formatter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	return &Formatter{Locale: tag}
}

// Success renders the message for a minted asset.
func (f *Formatter) Success(assetRef, provider string) string {
	p := message.NewPrinter(f.Locale)
	return p.Sprintf("Your artwork has been minted. Claim it with offer id %s (generated by %s).", assetRef, provider)
}

// Failure renders the message for a terminal failure reason.
func (f *Formatter) Failure(reason domain.Reason) string {
	p := message.NewPrinter(f.Locale)
	switch reason {
	case domain.ReasonPaymentNotFound:
		return p.Sprintf("We could not find a payment matching your reference before the deadline. No charge was made.")
	case domain.ReasonPaymentInvalid:
		return p.Sprintf("A payment with your reference was found but did not match the expected sender or amount.")
	case domain.ReasonContentPolicyRejected:
		return p.Sprintf("Your prompt was rejected by the content policy and cannot be generated.")
	case domain.ReasonProviderUnavailable:
		return p.Sprintf("All generation providers are currently unavailable. Please try again later.")
	case domain.ReasonMintPermanent:
		return p.Sprintf("Your artwork was generated but could not be recorded on the ledger.")
	}
	return p.Sprintf("Your request could not be completed.")
}
