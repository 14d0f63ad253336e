package domain

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Channel is the transfer mechanism. It determines fee, speed, and whether
// admin review is required before posting.
type Channel string

const (
	ChannelInternal Channel = "internal"
	ChannelExternal Channel = "external"
	ChannelWire     Channel = "wire"
)

// Instant reports whether transfers on this channel post immediately,
// without the verification/approval path.
func (c Channel) Instant() bool {
	return c == ChannelWire || c == ChannelInternal
}

// SpeedTier selects the fee tier for external transfers.
type SpeedTier string

const (
	SpeedStandard SpeedTier = "standard"
	SpeedExpress  SpeedTier = "express"
)

// TransferDetails is channel-tagged transfer metadata. Exactly one of the
// branch structs is populated, matching Channel.
type TransferDetails struct {
	Channel  Channel          `json:"channel"`
	External *ExternalDetails `json:"external,omitempty"`
	Wire     *WireDetails     `json:"wire,omitempty"`

	// FeeReference links a principal row to its paired fee row.
	FeeReference string          `json:"fee_reference,omitempty"`
	Fee          decimal.Decimal `json:"fee"`
}

// ExternalDetails carries the recipient and verification sub-state for an
// ACH-style external transfer.
type ExternalDetails struct {
	RecipientName  string    `json:"recipient_name"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
	BankName       string    `json:"bank_name"`
	AccountNumber  string    `json:"account_number"`
	RoutingNumber  string    `json:"routing_number"`
	Speed          SpeedTier `json:"speed"`

	VerificationRequired  bool   `json:"verification_required"`
	VerificationCode      string `json:"verification_code,omitempty"`
	VerificationCompleted bool   `json:"verification_completed"`
	UserConfirmedReceipt  bool   `json:"user_confirmed_receipt"`
}

// WireDetails carries the recipient routing for a wire transfer.
type WireDetails struct {
	RecipientName string `json:"recipient_name"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	SwiftCode     string `json:"swift_code"`
	International bool   `json:"international"`
	Urgent        bool   `json:"urgent"`
}

// Transfer amount bounds per channel.
var (
	ExternalMin = decimal.NewFromInt(1)
	ExternalMax = decimal.NewFromInt(50_000)
	WireMin     = decimal.NewFromInt(100)
	WireMax     = decimal.NewFromInt(250_000)
)

// Fee schedule.
var (
	feeExpress       = decimal.NewFromInt(15)
	feeWireDomestic  = decimal.NewFromInt(30)
	feeWireIntl      = decimal.NewFromInt(45)
	feeUrgentPremium = decimal.NewFromInt(25)
)

// FeeFor computes the transfer fee for the given channel details.
func FeeFor(d *TransferDetails) decimal.Decimal {
	switch d.Channel {
	case ChannelExternal:
		if d.External != nil && d.External.Speed == SpeedExpress {
			return feeExpress
		}
		return decimal.Zero
	case ChannelWire:
		fee := feeWireDomestic
		if d.Wire != nil && d.Wire.International {
			fee = feeWireIntl
		}
		if d.Wire != nil && d.Wire.Urgent {
			fee = fee.Add(feeUrgentPremium)
		}
		return fee
	}
	return decimal.Zero
}

// NewReference builds a transfer reference: <CHANNEL>-<timestamp6>-<random4>.
func NewReference(c Channel) string {
	prefix := map[Channel]string{
		ChannelInternal: "INT",
		ChannelExternal: "EXT",
		ChannelWire:     "WIRE",
	}[c]
	if prefix == "" {
		prefix = "TXN"
	}
	return fmt.Sprintf("%s-%06d-%04d", prefix, time.Now().Unix()%1_000_000, rand.Intn(10_000))
}

// FeeReference derives the paired fee row's reference from the principal's.
func FeeReference(ref string) string {
	return ref + "-FEE"
}

// IsFeeReference reports whether ref names a fee row.
func IsFeeReference(ref string) bool {
	return strings.HasSuffix(ref, "-FEE")
}
