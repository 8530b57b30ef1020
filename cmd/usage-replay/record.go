package main

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/campaign-engine/internal/domain/campaign"
)

// completion is one order-completion log line. Amounts may be encoded as JSON
// numbers or strings.
type completion struct {
	CampaignID     string
	UserID         string
	OrderID        string
	OrderAmount    decimal.Decimal
	ShippingCost   decimal.Decimal
	DiscountAmount decimal.Decimal
}

func (c completion) key() string {
	return c.CampaignID + "\x00" + c.OrderID
}

func (c completion) request() campaign.CommitRequest {
	return campaign.CommitRequest{
		CampaignID:     c.CampaignID,
		UserID:         c.UserID,
		OrderID:        c.OrderID,
		OrderAmount:    c.OrderAmount,
		ShippingCost:   c.ShippingCost,
		DiscountAmount: c.DiscountAmount,
	}
}

func decodeCompletion(line []byte) (completion, error) {
	var c completion
	d := jx.DecodeBytes(line)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "campaignId":
			c.CampaignID, err = d.Str()
		case "userId":
			if d.Next() == jx.Null {
				return d.Null()
			}
			c.UserID, err = d.Str()
		case "orderId":
			c.OrderID, err = d.Str()
		case "orderAmount":
			c.OrderAmount, err = decodeAmount(d)
		case "shippingCost":
			c.ShippingCost, err = decodeAmount(d)
		case "discountAmount":
			c.DiscountAmount, err = decodeAmount(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	}); err != nil {
		return completion{}, err
	}

	switch {
	case c.CampaignID == "":
		return completion{}, errors.New("campaignId is required")
	case c.OrderID == "":
		return completion{}, errors.New("orderId is required")
	}
	return c, nil
}

func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s", d.Next())
	}
}
