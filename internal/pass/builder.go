package pass

import (
	"fmt"
	"strings"
)

// AppleConfig carries the issuer identity stamped into every Apple payload.
type AppleConfig struct {
	PassTypeID       string
	TeamID           string
	OrganizationName string
	WebServiceURL    string
}

// ApplePayload is the pass.json document of a .pkpass bundle.
type ApplePayload struct {
	FormatVersion       int    `json:"formatVersion"`
	PassTypeIdentifier  string `json:"passTypeIdentifier"`
	SerialNumber        string `json:"serialNumber"`
	TeamIdentifier      string `json:"teamIdentifier"`
	OrganizationName    string `json:"organizationName"`
	Description         string `json:"description"`
	WebServiceURL       string `json:"webServiceURL,omitempty"`
	AuthenticationToken string `json:"authenticationToken,omitempty"`

	BackgroundColor string `json:"backgroundColor,omitempty"`
	ForegroundColor string `json:"foregroundColor,omitempty"`
	LabelColor      string `json:"labelColor,omitempty"`

	Barcodes []Barcode `json:"barcodes,omitempty"`

	StoreCard *FieldSet `json:"storeCard,omitempty"`
}

// Barcode is one renderable barcode on the pass.
type Barcode struct {
	Format          string `json:"format"`
	Message         string `json:"message"`
	MessageEncoding string `json:"messageEncoding"`
}

// FieldSet groups the visible fields of a storeCard-style pass.
type FieldSet struct {
	HeaderFields    []Field `json:"headerFields,omitempty"`
	PrimaryFields   []Field `json:"primaryFields,omitempty"`
	SecondaryFields []Field `json:"secondaryFields,omitempty"`
	AuxiliaryFields []Field `json:"auxiliaryFields,omitempty"`
	BackFields      []Field `json:"backFields,omitempty"`
}

// Field is one labeled value on the pass face or back.
type Field struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
	Value any    `json:"value"`
}

// BuildApplePayload renders the pass.json document for a record from its
// snapshot. The barcode carries the serial; scanners at the counter resolve
// it back to the card.
func BuildApplePayload(cfg AppleConfig, rec *Record, snap *Snapshot) *ApplePayload {
	payload := &ApplePayload{
		FormatVersion:       1,
		PassTypeIdentifier:  cfg.PassTypeID,
		SerialNumber:        rec.SerialNumber,
		TeamIdentifier:      cfg.TeamID,
		OrganizationName:    cfg.OrganizationName,
		Description:         snap.OfferName,
		WebServiceURL:       cfg.WebServiceURL,
		AuthenticationToken: rec.AuthToken,
		BackgroundColor:     snap.BackgroundColor,
		ForegroundColor:     snap.ForegroundColor,
		LabelColor:          snap.LabelColor,
		Barcodes: []Barcode{{
			Format:          "PKBarcodeFormatQR",
			Message:         rec.SerialNumber,
			MessageEncoding: "iso-8859-1",
		}},
	}

	card := &FieldSet{
		HeaderFields: []Field{
			{Key: "business", Label: "", Value: snap.BusinessName},
		},
		PrimaryFields: []Field{
			{Key: "stamps", Label: "STAMPS", Value: fmt.Sprintf("%d of %d", snap.CurrentStamps, snap.MaxStamps)},
		},
		SecondaryFields: []Field{
			{Key: "reward", Label: "REWARD", Value: snap.RewardDescription},
			{Key: "tier", Label: "TIER", Value: snap.CurrentTier},
		},
		BackFields: []Field{
			{Key: "member", Label: "Member", Value: snap.CustomerName},
			{Key: "claimed", Label: "Rewards claimed", Value: fmt.Sprintf("%d", snap.RewardsClaimed)},
		},
	}
	if snap.NextTier != "" {
		card.BackFields = append(card.BackFields, Field{
			Key:   "nextTier",
			Label: "Next tier",
			Value: fmt.Sprintf("%s in %d rewards", snap.NextTier, snap.RewardsToNextTier),
		})
	}
	payload.StoreCard = card

	return payload
}

// SanitizeFilename strips a name down to printable ASCII for the
// Content-Disposition header, which cannot carry raw UTF-8.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "pass"
	}
	return b.String()
}
